package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/rjboer/rxcapture/internal/config"
	"github.com/rjboer/rxcapture/internal/mdns"
	"github.com/rjboer/rxcapture/internal/telemetry"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdin, os.Stdout, os.LookupEnv).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(stdin io.Reader, stdout io.Writer, lookup func(string) (string, bool)) *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:   "rxcapture",
		Short: "Continuous SDR sample acquisition",
		Long: `rxcapture streams samples from a receiver into a ping-pong buffer pair,
logs the status of every receive and writes the valid samples to a raw I/Q file.

Type "quit" on stdin or send SIGINT to stop.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	root.SetOut(stdout)

	load := func(cmd *cobra.Command, f *runFlags) (config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = config.ApplyEnv(cfg, lookup)
		if f != nil {
			if err := f.apply(cmd, &cfg); err != nil {
				return config.Config{}, err
			}
		}
		return cfg, cfg.Validate()
	}

	root.AddCommand(newRunCmd(stdin, stdout, load))
	root.AddCommand(newDiscoverCmd(stdout))
	root.AddCommand(newConfigCmd(stdout, load))
	root.AddCommand(newTokenCmd(stdout, load))
	return root
}

type loadFunc func(cmd *cobra.Command, f *runFlags) (config.Config, error)

func newRunCmd(stdin io.Reader, stdout io.Writer, load loadFunc) *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Configure the receiver and acquire until stopped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, f)
			if err != nil {
				return err
			}
			r := &runner{cfg: cfg, stdin: stdin, stdout: stdout}
			return r.run(cmd.Context())
		},
	}
	f.register(cmd)
	return cmd
}

func newDiscoverCmd(stdout io.Writer) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for announced capture nodes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			hosts, err := mdns.Discover(cmd.Context(), timeout)
			if err != nil {
				return err
			}
			printHosts(stdout, hosts, time.Since(start))
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "browse duration")
	return cmd
}

func printHosts(w io.Writer, hosts []mdns.Host, took time.Duration) {
	if len(hosts) == 0 {
		fmt.Fprintf(w, "No capture nodes found (%s)\n", took.Truncate(time.Millisecond))
		return
	}
	fmt.Fprintf(w, "Discovered %d node(s) in %s\n", len(hosts), took.Truncate(time.Millisecond))
	for i, h := range hosts {
		fmt.Fprintf(w, " Node #%d\n", i+1)
		fmt.Fprintf(w, "  Instance : %s\n", h.Instance)
		fmt.Fprintf(w, "  Hostname : %s\n", h.Hostname)
		fmt.Fprintf(w, "  Port     : %d\n", h.Port)
		for _, ip := range h.Addresses {
			fmt.Fprintf(w, "  Address  : %s\n", ip)
		}
		if session, ok := h.TXTValue("session"); ok {
			fmt.Fprintf(w, "  Session  : %s\n", session)
		}
	}
}

func newConfigCmd(stdout io.Writer, load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, nil)
			if err != nil {
				return err
			}
			cfg.Telemetry.JWTSecret = redact(cfg.Telemetry.JWTSecret)
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			_, err = stdout.Write(out)
			return err
		},
	}
}

func newTokenCmd(stdout io.Writer, load loadFunc) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the stop control endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(cmd, nil)
			if err != nil {
				return err
			}
			verifier := telemetry.NewTokenVerifier(cfg.Telemetry.JWTSecret)
			if verifier == nil {
				return fmt.Errorf("telemetry.jwt_secret is not set")
			}
			now := time.Now()
			claims := jwt.RegisteredClaims{IssuedAt: jwt.NewNumericDate(now)}
			if ttl > 0 {
				claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
			}
			token, err := verifier.Issue(subject, claims)
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for none")
	return cmd
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "<redacted>"
}
