// consult-probe joins a consultation room as one party and negotiates a
// data-only peer connection with whoever else joins, reporting each call state.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"consultlink-backend/internal/negotiation"
	"consultlink-backend/pkg/constants"
	"consultlink-backend/pkg/logger"
)

func main() {
	var (
		url       = pflag.String("url", "ws://localhost:8085/ws", "relay websocket url")
		room      = pflag.String("room", "", "room id of the session to join")
		token     = pflag.String("token", "", "patient credential")
		dtoken    = pflag.String("dtoken", "", "doctor credential")
		stun      = pflag.StringSlice("stun", []string{"stun:stun.l.google.com:19302"}, "STUN server urls")
		timeout   = pflag.Duration("timeout", 2*time.Minute, "give up after this long")
		logLevel  = pflag.String("log-level", "info", "log level")
		initiator bool
	)
	pflag.Parse()

	if err := logger.Init(&logger.Config{Level: *logLevel, Format: "text"}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	header := http.Header{}
	switch {
	case *token != "" && *dtoken != "":
		logger.Fatal("Pass either --token or --dtoken, not both")
	case *dtoken != "":
		header.Set(constants.HeaderDoctorToken, *dtoken)
		initiator = true // the doctor places the call
	case *token != "":
		header.Set(constants.HeaderPatientToken, *token)
	default:
		logger.Fatal("A credential is required")
	}
	if *room == "" {
		logger.Fatal("--room is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client, err := negotiation.DialRelay(ctx, *url, header)
	if err != nil {
		logger.Fatal("Failed to reach relay", zap.Error(err))
	}

	machine := negotiation.NewMachine(
		negotiation.Config{Initiator: initiator, MediaRetry: negotiation.DefaultMediaRetry},
		negotiation.DataOnlySource{},
		negotiation.NewPionPeerFactory(*stun),
		client,
	)
	if err := machine.Start(ctx); err != nil {
		logger.Fatal("Failed to start call", zap.Error(err))
	}
	if err := client.JoinVideo(*room); err != nil {
		logger.Fatal("Failed to join room", zap.Error(err))
	}

	go func() {
		if err := client.Run(ctx, machine); err != nil {
			logger.Warn("Relay client stopped", zap.Error(err))
		}
	}()

	for tr := range machine.Transitions() {
		fields := []zap.Field{zap.Stringer("from", tr.From), zap.Stringer("to", tr.To)}
		if tr.Reason != negotiation.ReasonNone {
			fields = append(fields, zap.String("reason", string(tr.Reason)), zap.Error(tr.Err))
		}
		logger.Info("Call state", fields...)
	}

	if reason, err := machine.Result(); reason != negotiation.ReasonNone {
		logger.Error("Call failed", zap.String("reason", string(reason)), zap.Error(err))
		os.Exit(1)
	}
}
