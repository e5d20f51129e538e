package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"

	"main/internal/journal"
	"main/internal/schema"
)

// replay dumps an execution journal in record order, one line per
// event, for post-mortems and reconciliation.
func main() {
	dir := flag.String("dir", "testdata/journal", "Journal directory")
	prefix := flag.String("prefix", "exj", "Journal file prefix")
	strategyID := flag.Uint("strategy", 0, "Only print events for this strategy id (0=all)")
	orderID := flag.Uint64("order", 0, "Only print events for this order id (0=all)")
	terminalOnly := flag.Bool("terminal", false, "Only print terminal events")
	flag.Parse()

	paths, err := filepath.Glob(filepath.Join(*dir, *prefix+"-*"))
	if err != nil {
		log.Fatalf("glob failed: %v", err)
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		log.Fatalf("no journal segments under %s", *dir)
	}

	printed := 0
	for i, path := range paths {
		if err := dumpSegment(path, i == len(paths)-1, func(seq uint64, ev schema.ExecutionEvent) {
			if *strategyID != 0 && ev.StrategyID != uint32(*strategyID) {
				return
			}
			if *orderID != 0 && ev.OrderID != *orderID {
				return
			}
			if *terminalOnly && !ev.Status.Terminal() {
				return
			}
			printed++
			printEvent(seq, ev)
		}); err != nil {
			log.Fatalf("%s: %v", path, err)
		}
	}
	fmt.Printf("%d events across %d segments\n", printed, len(paths))
}

func dumpSegment(path string, last bool, fn func(uint64, schema.ExecutionEvent)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := journal.NewReader(f)
	for {
		seq, ev, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err == io.ErrUnexpectedEOF && last {
			// torn tail from an unclean shutdown
			return nil
		}
		if err != nil {
			return err
		}
		fn(seq, ev)
	}
}

func printEvent(seq uint64, ev schema.ExecutionEvent) {
	fmt.Printf("%08d ts=%d order=%d strat=%d inst=%d status=%s", seq, ev.Ts, ev.OrderID, ev.StrategyID, ev.Instrument, statusName(ev.Status))
	if ev.FillQty > 0 {
		fmt.Printf(" fill=%d@%d leaves=%d avg=%d exec=%d", ev.FillQty, ev.FillPrice, ev.LeavesQty, ev.AvgPrice, ev.ExecID)
	}
	if ev.RiskReason != 0 {
		fmt.Printf(" risk=%s", ev.RiskReason)
	}
	if ev.VenueCode != 0 {
		fmt.Printf(" venue_code=%d", ev.VenueCode)
	}
	if ev.ParentID != 0 {
		fmt.Printf(" parent=%d", ev.ParentID)
	}
	fmt.Println()
}

func statusName(s schema.OrderStatus) string {
	switch s {
	case schema.OrderStatusNew:
		return "New"
	case schema.OrderStatusPendingAck:
		return "PendingAck"
	case schema.OrderStatusAcknowledged:
		return "Acknowledged"
	case schema.OrderStatusPartiallyFilled:
		return "PartiallyFilled"
	case schema.OrderStatusPendingCancel:
		return "PendingCancel"
	case schema.OrderStatusFilled:
		return "Filled"
	case schema.OrderStatusCancelled:
		return "Cancelled"
	case schema.OrderStatusRejected:
		return "Rejected"
	case schema.OrderStatusExpired:
		return "Expired"
	default:
		return fmt.Sprintf("Unknown(%d)", uint16(s))
	}
}
