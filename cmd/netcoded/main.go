// Command netcoded runs a standalone netcode transport server.
package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/hashicorp/go-envparse"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/r2northstar/netcode/db/eventlogdb"
	"github.com/r2northstar/netcode/pkg/geotag"
	"github.com/r2northstar/netcode/pkg/metricsx"
	"github.com/r2northstar/netcode/pkg/netcode"
)

var opt struct {
	Help bool
}

func init() {
	pflag.BoolVarP(&opt.Help, "help", "h", false, "Show this help text")
}

func main() {
	pflag.Parse()

	if pflag.NArg() > 1 || opt.Help {
		fmt.Printf("usage: %s [options] [env_file]\n\noptions:\n%s\nnote: if env_file is provided, config from the environment is ignored\n", os.Args[0], pflag.CommandLine.FlagUsages())
		if opt.Help {
			os.Exit(2)
		}
		os.Exit(0)
	}

	var e []string
	if pflag.NArg() == 0 {
		e = os.Environ()
	} else {
		x, err := readEnv(pflag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: read env file: %v\n", err)
			os.Exit(1)
		}
		e = x
		if v, ok := os.LookupEnv("NOTIFY_SOCKET"); ok {
			e = append(e, "NOTIFY_SOCKET="+v)
		}
	}

	var c Config
	if err := c.UnmarshalEnv(e, false); err != nil {
		fmt.Fprintf(os.Stderr, "error: parse config: %v\n", err)
		os.Exit(1)
	}

	privateKey, err := c.PrivateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var outputs []io.Writer
	if c.LogStdout {
		if c.LogStdoutPretty {
			outputs = append(outputs, zerolog.ConsoleWriter{Out: os.Stdout})
		} else {
			outputs = append(outputs, os.Stdout)
		}
	}
	log := zerolog.New(zerolog.MultiLevelWriter(outputs...)).Level(c.LogLevel).With().Timestamp().Logger()

	var tag *geotag.Tagger
	if c.IP2Location != "" {
		tag, err = geotag.Open(c.IP2Location)
		if err != nil {
			log.Warn().Err(err).Msg("netcoded: failed to load ip2location database, country tagging disabled")
		} else {
			defer tag.Close()
		}
	}

	var elog *eventlogdb.DB
	if c.EventLogPath != "" {
		elog, err = eventlogdb.Open(c.EventLogPath)
		if err != nil {
			log.Warn().Err(err).Msg("netcoded: failed to open audit log database, audit logging disabled")
		} else {
			defer elog.Close()
		}
	}

	mset := metrics.NewSet()
	var httpSrv *http.Server
	if c.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			mset.WritePrometheus(w)
		})
		httpSrv = &http.Server{Addr: c.MetricsAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error().Err(err).Msg("netcoded: metrics server failed")
			}
		}()
	}

	srv, err := netcode.NewServer(netcode.Config{
		ListenAddr: c.ListenAddr.String(),
		MaxClients: c.MaxClients,
		ProtocolID: c.ProtocolID,
		PrivateKey: privateKey,
		Logger:     log,
		Metrics:    mset,
	})
	if err != nil {
		log.Error().Err(err).Msg("netcoded: failed to start server")
		os.Exit(1)
	}
	defer srv.Close()
	log.Info().Stringer("addr", srv.LocalAddr()).Msg("netcoded: listening")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sdnotify(c.NotifySocket, "READY=1")
	defer sdnotify(c.NotifySocket, "STOPPING=1")

	runDaemonLoop(ctx, srv, elog, tag, mset, c.EventLogFlushInterval, log)

	if httpSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}
}

// runDaemonLoop drives the server's virtual clock and drains its event
// stream until ctx is canceled, logging every event, tagging connect/reject
// events with a country code for metrics, and periodically flushing a
// buffered copy of the stream to the audit log.
func runDaemonLoop(ctx context.Context, srv *netcode.Server, elog *eventlogdb.DB, tag *geotag.Tagger, mset *metrics.Set, flushInterval time.Duration, log zerolog.Logger) {
	const tickInterval = 20 * time.Millisecond

	tick := time.NewTicker(tickInterval)
	defer tick.Stop()

	var flush *time.Ticker
	var flushCh <-chan time.Time
	if elog != nil {
		flush = time.NewTicker(flushInterval)
		defer flush.Stop()
		flushCh = flush.C
	}

	var pending []eventlogdb.Record
	out := make([]byte, netcode.MaxPayloadBytes)
	last := time.Now()

	for {
		select {
		case <-ctx.Done():
			if elog != nil && len(pending) > 0 {
				appendPending(elog, pending, log)
			}
			return
		case now := <-tick.C:
			srv.Update(now.Sub(last).Seconds())
			last = now
			for {
				ev, err := srv.NextEvent(out)
				if err != nil {
					log.Error().Err(err).Msg("netcoded: NextEvent failed")
					break
				}
				if ev == nil {
					break
				}
				handleEvent(*ev, tag, mset, log)
				if elog != nil {
					pending = append(pending, toRecord(*ev, tag))
				}
			}
		case <-flushCh:
			if len(pending) > 0 {
				appendPending(elog, pending, log)
				pending = nil
			}
		}
	}
}

func handleEvent(ev netcode.Event, tag *geotag.Tagger, mset *metrics.Set, log zerolog.Logger) {
	country := "unknown"
	if tag != nil && ev.Addr.IsValid() {
		country = tag.Country(ev.Addr.Addr())
	}
	mset.GetOrCreateCounter(metricsx.FormatName("netcode_events_total", "", "kind", ev.Kind.String(), "country", country)).Inc()

	switch ev.Kind {
	case netcode.EventClientConnect:
		log.Info().Uint64("client_id", ev.ClientID).Stringer("addr", ev.Addr).Str("country", country).Msg("netcoded: client connected")
	case netcode.EventClientDisconnect:
		log.Info().Uint64("client_id", ev.ClientID).Stringer("addr", ev.Addr).Msg("netcoded: client disconnected")
	case netcode.EventRejectedClient:
		log.Info().Stringer("addr", ev.Addr).Str("country", country).Msg("netcoded: rejected connection request")
	case netcode.EventClientSlotFull:
		log.Info().Stringer("addr", ev.Addr).Msg("netcoded: rejected connection request, server full")
	case netcode.EventReplayRejected:
		log.Warn().Uint64("client_id", ev.ClientID).Msg("netcoded: rejected replayed packet")
	default:
		log.Trace().Stringer("kind", ev.Kind).Uint64("client_id", ev.ClientID).Msg("netcoded: event")
	}
}

func toRecord(ev netcode.Event, tag *geotag.Tagger) eventlogdb.Record {
	country := "unknown"
	if tag != nil && ev.Addr.IsValid() {
		country = tag.Country(ev.Addr.Addr())
	}
	var addr string
	if ev.Addr.IsValid() {
		addr = ev.Addr.String()
	}
	return eventlogdb.Record{
		Time:     time.Now(),
		Kind:     ev.Kind.String(),
		ClientID: ev.ClientID,
		Addr:     addr,
		Country:  country,
	}
}

func appendPending(elog *eventlogdb.DB, pending []eventlogdb.Record, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, r := range pending {
		if err := elog.Append(ctx, r); err != nil {
			log.Error().Err(err).Msg("netcoded: failed to append audit log record")
		}
	}
}

func readEnv(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := envparse.Parse(f)
	if err != nil {
		return nil, err
	}

	var r []string
	for k, v := range m {
		r = append(r, k+"="+v)
	}
	return r, nil
}

func sdnotify(notifySocket, state string) (bool, error) {
	if notifySocket == "" {
		return false, nil
	}
	socketAddr := &net.UnixAddr{Name: notifySocket, Net: "unixgram"}
	conn, err := net.DialUnix(socketAddr.Net, nil, socketAddr)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	if _, err = conn.Write([]byte(state)); err != nil {
		return false, err
	}
	return true, nil
}
