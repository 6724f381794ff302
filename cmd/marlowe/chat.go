package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync/atomic"

	"github.com/spf13/cobra"

	"github.com/longregen/marlowe/internal/degradation"
	"github.com/longregen/marlowe/internal/transport"
	"github.com/longregen/marlowe/shared/config"
	"github.com/longregen/marlowe/shared/id"
	"github.com/longregen/marlowe/shared/protocol"
)

// chatCmd connects to a running server over websocket for an interactive
// session. Messages typed while the link is down are queued and delivered
// on reconnect.
func chatCmd() *cobra.Command {
	var serverURL string
	var userID string
	var conversationID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with Marlowe",
		Long: `Start an interactive chat session against a running Marlowe server.
Provide --conversation to continue an existing conversation, or omit it
to start a new one.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			if conversationID == "" {
				conversationID = id.NewConversation()
				fmt.Printf("Started new conversation: %s\n", conversationID)
			} else {
				fmt.Printf("Continuing conversation: %s\n", conversationID)
			}

			queue := degradation.NewQueue(degradation.DefaultQueueCapacity)
			mgr := degradation.NewManager(queue, nil)
			go mgr.Run(ctx)

			client := transport.NewClient(
				serverURL+"?user_id="+userID,
				config.GetEnv("MARLOWE_AUTH_TOKEN", ""),
				mgr,
				transport.Handlers{
					OnAssistantMsg: func(ctx context.Context, convID string, msg *protocol.AssistantMessage) {
						fmt.Printf("\nMarlowe: %s\n\nYou: ", msg.Content)
					},
					OnToolUseResult: func(ctx context.Context, convID string, msg *protocol.ToolUseResult) {
						if !msg.Success {
							fmt.Printf("\n[tool failed: %s]\n", msg.Error)
						}
					},
					OnStatusUpdate: func(ctx context.Context, msg *protocol.StatusUpdate) {
						if msg.Mode != string(degradation.ModeOnline) {
							fmt.Printf("\n[connection: %s]\n", msg.Mode)
						}
					},
					OnQueueAck: func(ctx context.Context, ack *protocol.QueueAck) {
						if ack.Delivered {
							fmt.Printf("\n[queued message delivered]\n")
						} else {
							fmt.Printf("\n[queued message failed after %d attempts: %s]\n", ack.Attempts, ack.Error)
						}
					},
					OnError: func(ctx context.Context, convID string, msg *protocol.Error) {
						fmt.Printf("\n[error: %s]\n", msg.Message)
					},
				},
			)

			// Reconnect once per connection loss, not once per state
			// change. Timeout-classified losses surface as error mode,
			// plain ones as offline; both warrant a redial.
			var reconnecting atomic.Bool
			mgr.Subscribe(func(state degradation.State) {
				if state.Mode != degradation.ModeOffline && state.Mode != degradation.ModeError {
					return
				}
				if state.Reason == "" {
					return
				}
				if !reconnecting.CompareAndSwap(false, true) {
					return
				}
				go func() {
					defer reconnecting.Store(false)
					if err := client.Reconnect(ctx); err != nil {
						fmt.Printf("\n[reconnect failed: %v — messages will be queued]\n", err)
					}
				}()
			})

			if err := client.Connect(ctx); err != nil {
				fmt.Printf("Could not reach the server; messages will be queued until it recovers.\n")
			}
			defer client.Disconnect()

			fmt.Println("\nType your message and press Enter. Type 'exit' or 'quit' to end.")
			fmt.Println(strings.Repeat("-", 80))
			fmt.Print("\nYou: ")

			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					fmt.Print("You: ")
					continue
				}
				if strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit") {
					fmt.Println("\nGoodbye!")
					break
				}

				queueID, err := client.SendUserMessage(conversationID, userID, input, degradation.PriorityNormal)
				if err != nil {
					fmt.Printf("[send failed: %v]\nYou: ", err)
					continue
				}
				if queueID != "" {
					fmt.Printf("[offline — message queued as %s]\nYou: ", queueID)
				}
			}

			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8321/api/v1/ws", "server websocket URL")
	cmd.Flags().StringVar(&userID, "user", "usr_default", "user ID for this session")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "conversation ID to continue")

	return cmd
}
