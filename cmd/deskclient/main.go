// Command deskclient is the counter and boarding-gate client. Intents are
// journaled locally and replayed to the engine when it is reachable.
//
//	deskclient book --trip 9021 --seats 3,4 --name "Ada Lovelace"
//	deskclient cancel --trip 9021 --after <create-id>
//	deskclient checkin --trip 9021 --ticket TRP-7K2M9Q
//	deskclient flush
//	deskclient run
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"tripseat/internal/bookings"
	"tripseat/internal/offline"
	"tripseat/internal/shared/config"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type client struct {
	cfg   *config.Config
	queue *offline.Queue
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	global := pflag.NewFlagSet("deskclient", pflag.ContinueOnError)
	global.SetInterspersed(false)
	journalPath := global.String("journal", cfg.Queue.JournalPath, "local operation journal")
	engineURL := global.String("engine", cfg.Queue.EngineURL, "engine API base URL")
	token := global.String("token", os.Getenv("TRIPSEAT_TOKEN"), "access token sent as Bearer")
	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	args := global.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	queue, err := offline.NewQueue(
		offline.NewFileJournal(*journalPath),
		offline.NewHTTPSubmitter(*engineURL, *token, cfg.Queue.RequestTimeout),
		offline.Config{
			ReplayInterval: cfg.Queue.ReplayInterval,
			BaseBackoff:    cfg.Queue.BaseBackoff,
			MaxBackoff:     cfg.Queue.MaxBackoff,
		},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open journal: %v\n", err)
		os.Exit(1)
	}
	c := &client{cfg: cfg, queue: queue}

	var cmdErr error
	switch args[0] {
	case "book":
		cmdErr = c.book(args[1:])
	case "cancel":
		cmdErr = c.targeted(offline.OpCancelBooking, args[1:])
	case "checkin":
		cmdErr = c.targeted(offline.OpCheckIn, args[1:])
	case "noshow":
		cmdErr = c.targeted(offline.OpMarkNoShow, args[1:])
	case "reschedule":
		cmdErr = c.targeted(offline.OpReschedule, args[1:])
	case "pending":
		c.pending()
	case "flush":
		cmdErr = c.flush()
	case "run":
		c.run()
	default:
		usage()
		os.Exit(2)
	}
	if cmdErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", args[0], cmdErr)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: deskclient [--journal path] [--engine url] [--token t] <command> [flags]

commands:
  book        queue a new booking
  cancel      queue a cancellation
  checkin     queue a check-in by booking or ticket
  noshow      queue a no-show mark
  reschedule  queue a move to other seats
  pending     list queued operations
  flush       replay the queue once
  run         replay continuously until interrupted`)
}

func (c *client) book(args []string) error {
	fs := pflag.NewFlagSet("book", pflag.ContinueOnError)
	trip := fs.String("trip", "", "trip id")
	seats := fs.IntSlice("seats", nil, "seat numbers")
	name := fs.String("name", "", "passenger name")
	document := fs.String("document", "", "passenger document")
	contact := fs.String("contact", "", "passenger contact")
	amount := fs.Float64("amount", 0, "amount due")
	selfService := fs.Bool("self-service", false, "leave the booking HELD instead of confirming at the desk")
	key := fs.String("key", "", "operation id, generated when empty")
	if err := fs.Parse(args); err != nil {
		return err
	}

	channel := bookings.ChannelDesk
	if *selfService {
		channel = bookings.ChannelSelfService
	}
	id, err := c.queue.Enqueue(offline.Operation{
		ID:   *key,
		Type: offline.OpCreateBooking,
		Create: &bookings.CreateBookingRequest{
			TripID:         *trip,
			Seats:          *seats,
			Passenger:      bookings.Passenger{Name: *name, Document: *document, Contact: *contact},
			IdempotencyKey: *key,
			Channel:        channel,
			AmountDue:      *amount,
		},
	})
	if err != nil {
		return err
	}
	fmt.Printf("queued %s\n", id)
	return nil
}

// targeted queues an operation on an existing or still-queued booking
func (c *client) targeted(opType offline.OpType, args []string) error {
	fs := pflag.NewFlagSet(string(opType), pflag.ContinueOnError)
	trip := fs.String("trip", "", "trip the booking is on")
	booking := fs.String("booking", "", "booking id")
	after := fs.String("after", "", "id of a queued create this operation depends on")
	key := fs.String("key", "", "operation id, generated when empty")
	reason := fs.String("reason", "", "cancellation reason")
	ticket := fs.String("ticket", "", "ticket reference for check-in")
	toTrip := fs.String("to-trip", "", "reschedule target trip, defaults to --trip")
	seats := fs.IntSlice("seats", nil, "reschedule target seats")
	if err := fs.Parse(args); err != nil {
		return err
	}

	op := offline.Operation{
		ID:        *key,
		Type:      opType,
		TripScope: *trip,
		BookingID: *booking,
		DependsOn: *after,
	}
	switch opType {
	case offline.OpCancelBooking:
		op.Cancel = &offline.CancelPayload{Reason: *reason}
	case offline.OpCheckIn:
		op.CheckIn = &offline.CheckInPayload{TicketRef: *ticket}
	case offline.OpReschedule:
		target := *toTrip
		if target == "" {
			target = *trip
		}
		op.Reschedule = &offline.ReschedulePayload{TripID: target, Seats: *seats}
	}

	id, err := c.queue.Enqueue(op)
	if err != nil {
		return err
	}
	fmt.Printf("queued %s\n", id)
	return nil
}

func (c *client) pending() {
	ops := c.queue.Pending()
	if len(ops) == 0 {
		fmt.Println("queue is empty")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTRIP\tTARGET\tATTEMPTS\tNEXT\tLAST ERROR")
	for _, op := range ops {
		target := op.BookingID
		if op.DependsOn != "" {
			target = "after " + op.DependsOn
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			op.ID, op.Type, op.TripScope, target, op.Attempts,
			op.NextAttemptAt.Format(time.Kitchen), op.LastError)
	}
	w.Flush()
}

func (c *client) flush() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	stats, err := c.queue.Flush(ctx)
	c.drainEvents()
	fmt.Printf("applied %d, rejected %d, deferred %d\n", stats.Applied, stats.Rejected, stats.Deferred)
	return err
}

func (c *client) run() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go c.queue.Run(ctx)
	fmt.Printf("replaying every %s, Ctrl-C to stop\n", c.cfg.Queue.ReplayInterval)

	// SIGUSR1 forces a replay, e.g. when the link comes back
	wake := make(chan os.Signal, 1)
	signal.Notify(wake, syscall.SIGUSR1)
	defer signal.Stop(wake)

	for {
		select {
		case <-ctx.Done():
			return
		case <-wake:
			c.queue.Reconnect()
		case e := <-c.queue.Events():
			printEvent(e)
		}
	}
}

func (c *client) drainEvents() {
	for {
		select {
		case e := <-c.queue.Events():
			printEvent(e)
		default:
			return
		}
	}
}

func printEvent(e offline.Event) {
	switch e.Kind {
	case offline.EventApplied:
		fmt.Printf("✅ %s %s applied, booking %s\n", e.Operation.Type, e.Operation.ID, e.BookingID)
	case offline.EventReselectionRequired:
		fmt.Printf("⚠️  %s %s: seats %v are taken on trip %s, pick others\n",
			e.Operation.Type, e.Operation.ID, e.Seats, e.Operation.TripScope)
	case offline.EventRejected:
		fmt.Printf("❌ %s %s rejected: %s\n", e.Operation.Type, e.Operation.ID, e.Message)
	}
}
