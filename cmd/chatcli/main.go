package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/clinic-chat/pkg/chatclient"
)

var (
	serverURL string
	token     string
	as        string
	with      string
	patient   string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "chatcli",
	Short: "Terminal client for clinic chat",
	Long: `chatcli opens the chat between you and a counterpart about one patient,
prints the history and sends every line typed on stdin. Type /quit to leave.`,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.Flags().StringVarP(&serverURL, "server", "s", "http://localhost:8080", "chat service base URL")
	rootCmd.Flags().StringVarP(&token, "token", "t", "", "bearer token (development servers can mint one)")
	rootCmd.Flags().StringVar(&as, "as", "", "signed-in participant as role:id, e.g. clinic:clinic-1")
	rootCmd.Flags().StringVar(&with, "with", "", "counterpart id")
	rootCmd.Flags().StringVar(&patient, "patient", "", "patient id")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log transport details")
	_ = rootCmd.MarkFlagRequired("as")
	_ = rootCmd.MarkFlagRequired("with")
	_ = rootCmd.MarkFlagRequired("patient")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	self, err := parseSender(as)
	if err != nil {
		return err
	}
	logger := zap.NewNop()
	if verbose {
		logger, _ = zap.NewDevelopment()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if token == "" {
		token, err = chatclient.IssueDevToken(ctx, serverURL, self, nil)
		if err != nil {
			return fmt.Errorf("no --token given and dev token request failed: %w", err)
		}
	}

	channel, err := chatclient.NewRealtimeChannel(serverURL, token,
		chatclient.WithBackoff(2*time.Second), chatclient.WithChannelLogger(logger))
	if err != nil {
		return err
	}
	if err := channel.Connect(ctx); err != nil {
		return fmt.Errorf("connect realtime: %w", err)
	}

	session := chatclient.NewSession(self, chatclient.NewAPI(serverURL, token, nil), channel, chatclient.WithLogger(logger))
	defer session.Close()

	channel.On(chatclient.EventReceiveMessage, func(data json.RawMessage) {
		var msg chatclient.Message
		if json.Unmarshal(data, &msg) == nil && msg.Sender != self {
			printMessage(cmd, msg, chatclient.StateSent)
		}
	})
	channel.On(chatclient.EventReconnect, func(json.RawMessage) {
		fmt.Fprintln(cmd.OutOrStdout(), "-- reconnected, history reloaded --")
	})

	thread, err := session.OpenThread(ctx, with, patient)
	if err != nil {
		return fmt.Errorf("open chat: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "chat %s (patient %s, doctor %s, clinic %s)\n",
		thread.ID, thread.PatientID, thread.DoctorID, thread.ClinicID)
	printTimeline(cmd, session)

	go func() {
		for n := range session.Notices() {
			fmt.Fprintf(cmd.ErrOrStderr(), "!! %s: %s\n", n.Kind, n.Message)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				session.Wait()
				return nil
			}
			switch strings.TrimSpace(line) {
			case "":
				continue
			case "/quit":
				return nil
			case "/history":
				printTimeline(cmd, session)
				continue
			}
			if _, err := session.Send(ctx, line); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "!! %v\n", err)
			}
		}
	}
}

func parseSender(val string) (chatclient.Sender, error) {
	role, id, ok := strings.Cut(val, ":")
	if !ok || id == "" {
		return chatclient.Sender{}, fmt.Errorf("--as must look like clinic:<id> or doctor:<id>")
	}
	switch chatclient.Role(role) {
	case chatclient.RoleClinic:
		return chatclient.Clinic(id), nil
	case chatclient.RoleDoctor:
		return chatclient.Doctor(id), nil
	default:
		return chatclient.Sender{}, fmt.Errorf("unknown role %q", role)
	}
}

func printTimeline(cmd *cobra.Command, session *chatclient.Session) {
	if err := session.LoadErr(); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "!! history unavailable: %v\n", err)
	}
	for _, e := range session.Entries() {
		printMessage(cmd, e.Message, e.State)
	}
}

func printMessage(cmd *cobra.Command, msg chatclient.Message, state chatclient.State) {
	line := fmt.Sprintf("[%s] %s: %s", msg.CreatedAt.Local().Format("15:04"), msg.Sender, msg.Body)
	for _, att := range msg.Attachments {
		line += fmt.Sprintf(" <%s %s>", att.Type, att.Filename)
	}
	if state != chatclient.StateSent {
		line += " (" + state.String() + ")"
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}
