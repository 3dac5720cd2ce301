package cli

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newConnectCmd() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Connect to a chatroom server as a line client",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := net.JoinHostPort(host, strconv.Itoa(port))
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				return fmt.Errorf("connect to %s: %w", addr, err)
			}
			defer conn.Close()

			done := make(chan struct{})

			// Server → stdout. The plain line "Bye" is the termination
			// signal; everything else is printed as-is, colors included.
			go func() {
				defer close(done)
				scanner := bufio.NewScanner(conn)
				for scanner.Scan() {
					line := scanner.Text()
					fmt.Println(line)
					if strings.TrimSpace(line) == "Bye" {
						return
					}
				}
			}()

			// Stdin → server.
			go func() {
				scanner := bufio.NewScanner(os.Stdin)
				for scanner.Scan() {
					if _, err := fmt.Fprintln(conn, scanner.Text()); err != nil {
						return
					}
				}
			}()

			<-done
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server address")
	cmd.Flags().IntVar(&port, "port", 50000, "server port")

	return cmd
}
