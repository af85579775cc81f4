// forestadm is an interactive operator console for a running forestctl
// process. It speaks the admin endpoint's line protocol: one command
// per line, a text response terminated by a blank line.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/peterh/liner"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:30121", "address of the controller's admin endpoint")
	timeout := flag.Duration("timeout", 5*time.Second, "per-command timeout")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("failed to connect to controller at %s: %v", *addr, err)
	}
	defer conn.Close()
	reader := bufio.NewReader(conn)

	fmt.Printf("forestadm connected to %s\n", *addr)
	fmt.Println("Available commands: comtrees, comtree <n>, routers, links, leaves, help, exit")

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt(fmt.Sprintf("forest[%s]> ", *addr))
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Println("Aborted")
				continue
			}
			break
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if input == "exit" || input == "quit" {
			fmt.Fprintln(conn, "quit")
			return
		}

		if _, err := fmt.Fprintln(conn, input); err != nil {
			log.Fatalf("connection lost: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(*timeout))
		resp, err := readResponse(reader)
		if err != nil {
			log.Fatalf("read failed: %v", err)
		}
		fmt.Print(resp)
	}
}

// readResponse collects lines until the blank terminator.
func readResponse(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return "", err
		}
		if line == "\n" {
			return b.String(), nil
		}
		b.WriteString(line)
	}
}
