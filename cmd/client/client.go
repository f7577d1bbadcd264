package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"log"
	"math/big"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"critbook/internal/book"
	"critbook/internal/clock"
	"critbook/internal/engine"
	"critbook/internal/wire"
)

// priceScale converts between the human decimal prices on the CLI and the
// scale-1e9 fixed-point values on the wire.
var priceScale = decimal.New(1, 9)

func main() {
	// 1. CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	accountStr := flag.String("account", "", "Account uuid; a fresh one is minted when empty")
	action := flag.String("action", "limit", "Action to perform: ['limit', 'market', 'swap-base', 'swap-quote', 'cancel', 'cancel-all']")

	// Order Parameters
	sideStr := flag.String("side", "bid", "Order side: 'bid' or 'ask'")
	priceStr := flag.String("price", "1", "Limit price, decimal (e.g. 5 or 0.25)")
	qtyStr := flag.String("qty", "10", "Quantity or comma-separated list (e.g. 10,20,50)")
	expireMs := flag.Uint64("expire-ms", clock.Never, "Expiration timestamp in ms; default never expires")
	clientID := flag.Uint64("client-id", 0, "Opaque client order id echoed on the resting order")
	restrictionStr := flag.String("restriction", "none", "Remainder handling: ['none', 'ioc', 'fok', 'post']")
	policyStr := flag.String("policy", "cancel-oldest", "Self-match policy: ['cancel-oldest', 'cancel-taker', 'abort']")

	// Cancel Parameters
	orderID := flag.Uint64("order-id", 0, "Order id to cancel")

	flag.Parse()

	// Validation
	account := uuid.New()
	if *accountStr != "" {
		var err error
		account, err = uuid.Parse(*accountStr)
		if err != nil {
			log.Fatalf("Invalid -account uuid: %v", err)
		}
	}

	side := book.Bid
	if strings.ToLower(*sideStr) == "ask" {
		side = book.Ask
	}
	restriction, err := parseRestriction(*restrictionStr)
	if err != nil {
		log.Fatal(err)
	}
	policy, err := parsePolicy(*policyStr)
	if err != nil {
		log.Fatal(err)
	}
	price, err := parsePrice(*priceStr)
	if err != nil {
		log.Fatalf("Invalid -price: %v", err)
	}

	// Connect to Server
	conn, err := net.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as account %s\n", *serverAddr, account)

	// Start Listening for Reports (Async)
	go readReports(conn)

	// Execute Action
	switch strings.ToLower(*action) {
	case "limit":
		for _, q := range parseQuantities(*qtyStr) {
			msg := wire.PlaceLimitMessage{
				Account:           account,
				Side:              side,
				ClientID:          *clientID,
				Price:             price,
				Quantity:          q,
				ExpireTimestampMs: *expireMs,
				Restriction:       restriction,
				SelfMatchPolicy:   policy,
			}
			if _, err := conn.Write(msg.Serialize()); err != nil {
				log.Printf("Failed to place order (Qty: %d): %v", q, err)
				continue
			}
			fmt.Printf("-> Sent limit %s: %d @ %s\n", side, q, formatPrice(price))
			// Small sleep so the server reads each frame distinctly.
			time.Sleep(5 * time.Millisecond)
		}

	case "market":
		for _, q := range parseQuantities(*qtyStr) {
			msg := wire.PlaceMarketMessage{Account: account, Side: side, Quantity: q, SelfMatchPolicy: policy}
			if _, err := conn.Write(msg.Serialize()); err != nil {
				log.Printf("Failed to place order (Qty: %d): %v", q, err)
				continue
			}
			fmt.Printf("-> Sent market %s: %d\n", side, q)
			time.Sleep(5 * time.Millisecond)
		}

	case "swap-base", "swap-quote":
		msgType := wire.SwapExactBaseForQuote
		if strings.ToLower(*action) == "swap-quote" {
			msgType = wire.SwapExactQuoteForBase
		}
		for _, q := range parseQuantities(*qtyStr) {
			msg := wire.SwapMessage{Account: account, Quantity: q, SelfMatchPolicy: policy}
			if _, err := conn.Write(msg.Serialize(msgType)); err != nil {
				log.Printf("Failed to send swap (Qty: %d): %v", q, err)
				continue
			}
			fmt.Printf("-> Sent %s: %d\n", strings.ToLower(*action), q)
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if *orderID == 0 {
			log.Fatal("Error: -order-id is required for cancellation")
		}
		msg := wire.CancelOrderMessage{Account: account, OrderID: *orderID}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Printf("Failed to send cancel request: %v", err)
		} else {
			fmt.Printf("-> Sent cancel for order %d\n", *orderID)
		}

	case "cancel-all":
		msg := wire.CancelAllMessage{Account: account}
		if _, err := conn.Write(msg.Serialize()); err != nil {
			log.Printf("Failed to send cancel-all request: %v", err)
		} else {
			fmt.Println("-> Sent cancel-all")
		}

	default:
		log.Fatalf("Unknown action: %s", *action)
	}

	// Keep the client alive to receive execution reports
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	select {}
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid quantity '%s', skipping.", p)
		}
	}
	return result
}

// parsePrice converts a decimal CLI price into its scale-1e9 wire form,
// refusing prices that do not land on an integer after scaling.
func parsePrice(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	scaled := d.Mul(priceScale)
	if !scaled.IsInteger() || scaled.IsNegative() {
		return 0, fmt.Errorf("price %s is negative or has more than 9 decimal places", s)
	}
	return scaled.BigInt().Uint64(), nil
}

// formatPrice renders a scale-1e9 wire price as a human decimal.
func formatPrice(p uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(p), -9).String()
}

func parseRestriction(s string) (engine.Restriction, error) {
	switch strings.ToLower(s) {
	case "none":
		return engine.NoRestriction, nil
	case "ioc":
		return engine.ImmediateOrCancel, nil
	case "fok":
		return engine.FillOrKill, nil
	case "post":
		return engine.PostOrAbort, nil
	}
	return 0, fmt.Errorf("unknown restriction %q", s)
}

func parsePolicy(s string) (engine.SelfMatchPolicy, error) {
	switch strings.ToLower(s) {
	case "cancel-oldest":
		return engine.CancelOldest, nil
	case "cancel-taker":
		return engine.CancelTaker, nil
	case "abort":
		return engine.AbortSelfMatch, nil
	}
	return 0, fmt.Errorf("unknown self-match policy %q", s)
}

// readReports continuously reads and parses Report frames from the server
func readReports(conn net.Conn) {
	for {
		// 1. Read Fixed Header
		headerBuf := make([]byte, wire.ReportFixedHeaderLen)
		if _, err := io.ReadFull(conn, headerBuf); err != nil {
			if err != io.EOF {
				log.Printf("Connection lost: %v", err)
			}
			os.Exit(0)
		}

		// 2. Read Variable Length Strings (pool id, account, error)
		poolIDLen := binary.BigEndian.Uint16(headerBuf[58:60])
		accountLen := binary.BigEndian.Uint16(headerBuf[60:62])
		errStrLen := binary.BigEndian.Uint32(headerBuf[62:66])
		varBuf := make([]byte, int(poolIDLen)+int(accountLen)+int(errStrLen))
		if len(varBuf) > 0 {
			if _, err := io.ReadFull(conn, varBuf); err != nil {
				log.Printf("Error reading report body: %v", err)
				return
			}
		}

		report, err := wire.ParseReport(append(headerBuf, varBuf...))
		if err != nil {
			log.Printf("Error parsing report: %v", err)
			continue
		}

		// 3. Print Report
		if report.MessageType == wire.ErrorReport {
			fmt.Printf("\n[SERVER ERROR] %s\n", report.Err)
			continue
		}
		fmt.Printf("\n[%s] pool=%s order=%d price=%s base=%d quote=%d account=%s\n",
			kindString(report.Kind), report.PoolID, report.OrderID,
			formatPrice(report.Price), report.BaseQty, report.QuoteQty, report.Account)
	}
}

func kindString(k engine.EventKind) string {
	switch k {
	case engine.EventPlaced:
		return "PLACED"
	case engine.EventFilled:
		return "FILLED"
	case engine.EventCancelled:
		return "CANCELLED"
	case engine.EventExpired:
		return "EXPIRED"
	}
	return "UNKNOWN"
}
