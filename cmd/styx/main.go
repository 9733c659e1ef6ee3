// main.go: Segment diagnostics CLI
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agilira/styx"
)

var opts struct {
	Dir      string
	Capacity string
	Stats    bool
	Verbose  bool
}

var rootCmd = &cobra.Command{
	Use:           "styx",
	Short:         "Inspect and manage styx shared-memory ring segments",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&opts.Dir, "dir", "d", styx.DefaultDir, "Directory holding segment backing files")
	rootCmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log lifecycle events")

	createCmd.Flags().StringVarP(&opts.Capacity, "capacity", "c", "64KB", "Usable buffer capacity (e.g. 64KB, 1MB)")
	createCmd.Flags().BoolVar(&opts.Stats, "stats", false, "Enable the shared statistics block")

	rootCmd.AddCommand(createCmd, destroyCmd, statCmd, inspectCmd, pushCmd, drainCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *zap.Logger {
	if !opts.Verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func attach(name string) (*styx.Queue, error) {
	return styx.AttachWithConfig(&styx.Config{
		Name:   name,
		Dir:    opts.Dir,
		Logger: newLogger(),
	})
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a segment",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		q, err := styx.CreateWithConfig(&styx.Config{
			Name:     args[0],
			Capacity: opts.Capacity,
			Dir:      opts.Dir,
			Stats:    opts.Stats,
			Logger:   newLogger(),
		})
		if err != nil {
			return err
		}
		defer q.Detach()

		fmt.Printf("created %q: capacity %s\n", q.Name(), datasize.ByteSize(q.Capacity()).HumanReadable())
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <name>",
	Short: "Destroy a segment and remove its backing file",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		q, err := attach(args[0])
		if err != nil {
			return err
		}
		if err := q.Destroy(); err != nil {
			return err
		}
		fmt.Printf("destroyed %q\n", args[0])
		return nil
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <name>",
	Short: "Print cursors and statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		q, err := attach(args[0])
		if err != nil {
			return err
		}
		defer q.Detach()

		fmt.Printf("name:     %s\n", q.Name())
		fmt.Printf("capacity: %s (%d bytes)\n", datasize.ByteSize(q.Capacity()).HumanReadable(), q.Capacity())
		fmt.Printf("head:     %d\n", q.Head())
		fmt.Printf("tail:     %d\n", q.Tail())

		st := q.Stats()
		if st == nil {
			fmt.Println("stats:    disabled")
			return nil
		}
		fmt.Printf("enqueue:  %d/%d tried, last %dus, max %dus\n",
			st.Enqueued, st.EnqueueTried, st.EnqueueMicros, st.MaxEnqueueMicros)
		fmt.Printf("dequeue:  %d/%d tried, last %dus, max %dus\n",
			st.Dequeued, st.DequeueTried, st.DequeueMicros, st.MaxDequeueMicros)
		fmt.Printf("overflow: %d\n", st.Overflows)
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect <name> <offset>",
	Short: "Decode the slot marker at a buffer offset",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		offset, err := strconv.ParseUint(args[1], 0, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q: %w", args[1], err)
		}

		q, err := attach(args[0])
		if err != nil {
			return err
		}
		defer q.Detach()

		m := q.Inspect(offset)
		fmt.Printf("marker:    %#x\n", uint64(m))
		fmt.Printf("valid:     %v\n", m.ValidFor(offset))
		fmt.Printf("unread:    %v\n", m.Unread())
		if m.ValidFor(offset) {
			fmt.Printf("publishes: offset %d\n", m.Offset())
		}
		return nil
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <name> <payload>",
	Short: "Enqueue one payload (acts as the producer)",
	Args:  cobra.ExactArgs(2),
	RunE: func(_ *cobra.Command, args []string) error {
		q, err := attach(args[0])
		if err != nil {
			return err
		}
		defer q.Detach()

		st := q.Enqueue([]byte(args[1]))
		fmt.Println(st)
		if st != styx.OK {
			os.Exit(2)
		}
		return nil
	},
}

var drainCmd = &cobra.Command{
	Use:   "drain <name>",
	Short: "Dequeue and print every waiting payload (acts as the consumer)",
	Args:  cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		q, err := attach(args[0])
		if err != nil {
			return err
		}
		defer q.Detach()

		n := 0
		for {
			p, st := q.Dequeue()
			switch st {
			case styx.OK:
				fmt.Printf("%4d  %s\n", len(p), hex.EncodeToString(p))
				styx.Release(p)
				n++
			case styx.CASRetry:
				continue
			default: // Empty
				fmt.Printf("drained %d payloads\n", n)
				return nil
			}
		}
	},
}
