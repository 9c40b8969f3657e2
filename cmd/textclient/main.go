package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strings"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:60000", "text gateway address")
	flag.Parse()

	conn, err := net.Dial("tcp", *addr)
	if err != nil {
		log.Fatalf("connect %s: %v", *addr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", *addr)

	// server output, including match broadcasts, is printed as it arrives
	go func() {
		if _, err := io.Copy(os.Stdout, conn); err != nil {
			log.Printf("connection closed: %v", err)
		}
		os.Exit(0)
	}()

	in := bufio.NewScanner(os.Stdin)
	prompt := func(label string) (string, bool) {
		fmt.Print(label)
		if !in.Scan() {
			return "", false
		}
		return strings.TrimSpace(in.Text()), true
	}

	for {
		side, ok := prompt("Enter side (0 for Buy, 1 for Sell): ")
		if !ok {
			return
		}
		price, ok := prompt("Enter price: ")
		if !ok {
			return
		}
		qty, ok := prompt("Enter quantity: ")
		if !ok {
			return
		}
		if _, err := fmt.Fprintf(conn, "%s %s %s\n", side, price, qty); err != nil {
			log.Fatalf("send: %v", err)
		}
	}
}
