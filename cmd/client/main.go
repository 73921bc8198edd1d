package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"
)

func main() {
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the venue server")
	user := flag.String("user", "", "Username to register and login as (optional)")
	password := flag.String("password", "", "Password for -user")
	side := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	ticker := flag.String("ticker", "AAPL", "Ticker symbol")
	qtyList := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")
	flag.Parse()

	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", *serverAddr)

	// Print every server line (acks and fills) as it arrives.
	go func() {
		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			fmt.Printf("<- %s\n", scanner.Text())
		}
		fmt.Println("Connection closed.")
		os.Exit(0)
	}()

	send := func(line string) {
		if _, err := fmt.Fprintf(conn, "%s\n", line); err != nil {
			log.Fatalf("Failed to send %q: %v", line, err)
		}
		fmt.Printf("-> %s\n", line)
	}

	if *user != "" {
		send(fmt.Sprintf("register %s %s", *user, *password))
		send(fmt.Sprintf("login %s %s", *user, *password))
	}

	for _, qty := range strings.Split(*qtyList, ",") {
		qty = strings.TrimSpace(qty)
		if qty == "" {
			continue
		}
		send(fmt.Sprintf("%s %s %s", *side, *ticker, qty))
		// Small sleep so the server stamps distinct timestamps.
		time.Sleep(5 * time.Millisecond)
	}

	// Keep the client alive to receive fill reports.
	fmt.Println("Listening for fills... (Press Ctrl+C to exit)")
	select {}
}
