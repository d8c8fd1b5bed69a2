// Command boardd runs and drives the bulletin-board engine: a "serve"
// subcommand for the REST/JSON + WebSocket server, and thin client
// subcommands (submit, publish, pending, proof, verify) that open the
// same backend directly rather than going over HTTP — handy for local
// inspection and scripting against a backend that isn't currently
// served.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"

	board "github.com/anchorline/merkleboard"
)

func main() {
	var backendKind, dsn, listen string

	root := &cobra.Command{
		Use:   "boardd",
		Short: "Verifiable append-only bulletin board",
	}
	root.PersistentFlags().StringVar(&backendKind, "backend", board.EnvOrDefault("BOARD_BACKEND", "memory"), "backend kind: memory, file, sql, leveldb")
	root.PersistentFlags().StringVar(&dsn, "path", board.EnvOrDefault("BOARD_DSN", "./data"), "backend path or DSN")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST/JSON and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(backendKind, dsn, listen)
		},
	}
	serveCmd.Flags().StringVar(&listen, "listen", board.EnvOrDefault("BOARD_LISTEN", ":8080"), "listen address")
	root.AddCommand(serveCmd)

	var submitData string
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit one leaf",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hex.DecodeString(submitData)
			if err != nil {
				return fmt.Errorf("decode --data: %w", err)
			}
			return withEngine(backendKind, dsn, func(e *board.Engine) error {
				h, err := e.SubmitLeaf(data)
				if err != nil {
					return err
				}
				fmt.Println(board.HexString(h))
				return nil
			})
		},
	}
	submitCmd.Flags().StringVar(&submitData, "data", "", "hex-encoded leaf data")
	root.AddCommand(submitCmd)

	publishCmd := &cobra.Command{
		Use:   "publish",
		Short: "Seal the pending forest into a new published root",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(backendKind, dsn, func(e *board.Engine) error {
				h, err := e.RequestNewPublishedRoot()
				if err != nil {
					return err
				}
				fmt.Println(board.HexString(h))
				return nil
			})
		},
	}
	root.AddCommand(publishCmd)

	pendingCmd := &cobra.Command{
		Use:   "pending",
		Short: "Print the current pending forest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(backendKind, dsn, func(e *board.Engine) error {
				hashes, err := e.GetPendingHashValues()
				if err != nil {
					return err
				}
				for _, h := range hashes {
					fmt.Println(board.HexString(h))
				}
				return nil
			})
		},
	}
	root.AddCommand(pendingCmd)

	var proofHash string
	proofCmd := &cobra.Command{
		Use:   "proof",
		Short: "Print the proof chain for a hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := board.ParseHash(proofHash)
			if err != nil {
				return err
			}
			return withEngine(backendKind, dsn, func(e *board.Engine) error {
				pc, err := e.GetProofChain(h)
				if err != nil {
					return err
				}
				return json.NewEncoder(os.Stdout).Encode(proofChainSummary(pc))
			})
		},
	}
	proofCmd.Flags().StringVar(&proofHash, "hash", "", "hash to prove (hex)")
	root.AddCommand(proofCmd)

	var verifyHash, verifyRoot string
	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Independently replay a proof chain against a claimed root",
		Long: `Fetches the proof chain for --hash from the backend and replays it with
board.ReplayProofChain, the same verifier helper an external auditor
would use, then checks the result lands on --root. Never trusts the
engine's own published_root field — --root is the caller's own claim.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := board.ParseHash(verifyHash)
			if err != nil {
				return err
			}
			claimedRoot, err := board.ParseHash(verifyRoot)
			if err != nil {
				return err
			}
			return withEngine(backendKind, dsn, func(e *board.Engine) error {
				pc, err := e.GetProofChain(h)
				if err != nil {
					return err
				}
				if pc.PublishedRoot == nil {
					return fmt.Errorf("hash %s is not yet published", board.HexString(h))
				}
				if pc.PublishedRoot.Hash != claimedRoot {
					return fmt.Errorf("hash %s is enclosed by root %s, not the claimed %s",
						board.HexString(h), board.HexString(pc.PublishedRoot.Hash), board.HexString(claimedRoot))
				}
				if err := board.ReplayProofChain(h, pc.Chain, pc.PublishedRoot.Hash, pc.PublishedRoot.Root); err != nil {
					return err
				}
				fmt.Println("ok")
				return nil
			})
		},
	}
	verifyCmd.Flags().StringVar(&verifyHash, "hash", "", "hash to verify (hex)")
	verifyCmd.Flags().StringVar(&verifyRoot, "root", "", "claimed enclosing published root (hex)")
	root.AddCommand(verifyCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func withEngine(backendKind, dsn string, fn func(*board.Engine) error) error {
	backend, err := board.OpenBackend(backendKind, dsn)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))
	e, err := board.New(board.Config{}, backend, logger)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}
	return fn(e)
}

func runServe(backendKind, dsn, listen string) error {
	backend, err := board.OpenBackend(backendKind, dsn)
	if err != nil {
		return fmt.Errorf("open backend: %w", err)
	}
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags))
	e, err := board.New(board.Config{}, backend, logger)
	if err != nil {
		return fmt.Errorf("construct engine: %w", err)
	}

	srv := board.NewServer(e, logger)
	mux := http.NewServeMux()
	srv.SetupRoutes(mux)

	httpServer := &http.Server{Addr: listen, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", listen, "backend", backendKind)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	}
}

func proofChainSummary(pc board.ProofChain) map[string]any {
	chain := make([]string, len(pc.Chain))
	for i, link := range pc.Chain {
		chain[i] = board.HexString(link.Hash)
	}
	out := map[string]any{"chain": chain}
	if pc.PublishedRoot != nil {
		out["published_root"] = board.HexString(pc.PublishedRoot.Hash)
	} else {
		out["published_root"] = nil
	}
	return out
}
