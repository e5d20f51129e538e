package main

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"main/internal/admin"
	"main/pkg/uds"
)

// adminctl talks to a running engine over its admin socket. One command
// per invocation, response printed as indented JSON.
//
//	adminctl -socket /tmp/engine.sock state
//	adminctl -socket /tmp/engine.sock kill "fat finger"
//	adminctl -socket /tmp/engine.sock halt BTC-USD
//	adminctl -socket /tmp/engine.sock resume BTC-USD
//	adminctl -socket /tmp/engine.sock cancel-all
//	adminctl -socket /tmp/engine.sock limits -max-order-qty 500
func main() {
	socket := flag.String("socket", "/tmp/engine.sock", "Admin socket path")
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		log.Fatalf("usage: adminctl [-socket path] state|kill|halt|resume|cancel-all|limits ...")
	}

	cmd, err := buildCommand(args)
	if err != nil {
		log.Fatalf("%v", err)
	}

	client, err := uds.NewClient(*socket)
	if err != nil {
		log.Fatalf("admin socket %s: %v", *socket, err)
	}
	conn, err := client.DialTimeout(2 * time.Second)
	if err != nil {
		log.Fatalf("dial %s: %v", *socket, err)
	}
	defer conn.Close()

	if err := json.NewEncoder(conn).Encode(cmd); err != nil {
		log.Fatalf("send command: %v", err)
	}
	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil {
		log.Fatalf("read response: %v", err)
	}

	var resp admin.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		log.Fatalf("decode response: %v", err)
	}
	pretty, _ := json.MarshalIndent(resp, "", "  ")
	fmt.Println(string(pretty))
	if !resp.OK {
		os.Exit(1)
	}
}

func buildCommand(args []string) (admin.Command, error) {
	switch args[0] {
	case "state":
		return admin.Command{Cmd: "snapshot_state"}, nil
	case "kill":
		cmd := admin.Command{Cmd: "flip_kill_switch"}
		if len(args) > 1 {
			cmd.Reason = args[1]
		}
		return cmd, nil
	case "halt", "resume":
		if len(args) < 2 {
			return admin.Command{}, fmt.Errorf("%s needs a symbol", args[0])
		}
		halted := args[0] == "halt"
		return admin.Command{Cmd: "halt_instrument", Symbol: args[1], Halted: &halted}, nil
	case "cancel-all":
		return admin.Command{Cmd: "cancel_all"}, nil
	case "limits":
		fs := flag.NewFlagSet("limits", flag.ContinueOnError)
		maxOrderQty := fs.Int64("max-order-qty", 0, "Max single order quantity, scaled (0=unchanged)")
		maxAbsPos := fs.Int64("max-abs-position", 0, "Max absolute position, scaled (0=unchanged)")
		maxNotional := fs.Int64("max-notional", 0, "Max open notional, scaled (0=unchanged)")
		maxRate := fs.Int("max-orders-per-sec", 0, "Max orders per second (0=unchanged)")
		maxLoss := fs.Int64("max-daily-loss", 0, "Max daily loss, scaled (0=unchanged)")
		if err := fs.Parse(args[1:]); err != nil {
			return admin.Command{}, err
		}
		return admin.Command{Cmd: "update_limits", Limits: &admin.LimitsPatch{
			MaxOrderQty:        *maxOrderQty,
			MaxAbsPosition:     *maxAbsPos,
			MaxNotional:        *maxNotional,
			MaxOrdersPerSecond: *maxRate,
			MaxDailyLoss:       *maxLoss,
		}}, nil
	default:
		return admin.Command{}, fmt.Errorf("unknown command: %s", args[0])
	}
}
