package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/classnet/classchat/pkg/client"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	serverAddr string
	token      string
)

var rootCmd = &cobra.Command{
	Use:           "classchat-client",
	Short:         "Terminal client for ClassNet chat rooms",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var joinCmd = &cobra.Command{
	Use:   "join ROOM",
	Short: "Join a room and chat until /quit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if token == "" {
			token = os.Getenv("CLASSCHAT_TOKEN")
		}
		return join(args[0])
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:8080", "chat server host:port")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "access token (defaults to $CLASSCHAT_TOKEN)")
	rootCmd.AddCommand(joinCmd)
}

func join(room string) error {
	c := client.NewClient(serverAddr, room, token)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Joining %s on %s...", room, serverAddr)
	s.Start()
	err := c.Connect()
	s.Stop()
	if err != nil {
		return err
	}
	if err := c.Run(); err != nil {
		return err
	}
	defer func() { _ = c.Close() }()

	fmt.Printf("✓ Joined %s. Type /quit to leave.\n", room)
	go printEvents(c)

	read := scanLines(os.Stdin)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		line := liner.NewLiner()
		defer func() { _ = line.Close() }()
		line.SetCtrlCAborts(true)
		read = func() (string, error) {
			text, err := line.Prompt("> ")
			if err == nil && strings.TrimSpace(text) != "" {
				line.AppendHistory(text)
			}
			return text, err
		}
	}

	for {
		text, err := read()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, liner.ErrPromptAborted) {
				return nil
			}
			return err
		}

		text = strings.TrimSpace(text)
		switch text {
		case "":
			continue
		case "/quit":
			return nil
		}

		if err := c.Send(text); err != nil {
			if errors.Is(err, client.ErrClosed) {
				fmt.Println("Server closed the connection")
				return nil
			}
			return err
		}
	}
}

func scanLines(r io.Reader) func() (string, error) {
	scanner := bufio.NewScanner(r)
	return func() (string, error) {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return scanner.Text(), nil
	}
}

func printEvents(c *client.Client) {
	for ev := range c.Events() {
		switch {
		case ev.History != nil:
			for _, m := range ev.History {
				fmt.Printf("[%s] %s: %s\n", m.CreatedAt, m.Username, m.Message)
			}
		case ev.Message != nil:
			fmt.Printf("[%s] %s: %s\n", ev.Message.Date, ev.Message.Username, ev.Message.Message)
		}
	}
	fmt.Println("Disconnected from", c.Room())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
