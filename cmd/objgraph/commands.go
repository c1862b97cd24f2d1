package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/Neumenon/objgraph/internal/config"
	"github.com/Neumenon/objgraph/objgraph"
	"github.com/Neumenon/objgraph/stream"
)

// ============================================================
// fmt
// ============================================================

func newFmtCmd() *cobra.Command {
	var compact, readable bool

	cmd := &cobra.Command{
		Use:   "fmt [file]",
		Short: "Re-emit a stream in readable or compact form",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := configFromContext(cmd.Context())
			format := cfg.Options().Format
			switch {
			case compact:
				format = objgraph.FormatCompact
			case readable:
				format = objgraph.FormatReadable
			}

			in, name, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()

			loggerFromContext(cmd.Context()).Debug("reformatting", "input", name, "format", format)
			out := cmd.OutOrStdout()
			if err := objgraph.Reformat(in, out, format); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			_, err = io.WriteString(out, "\n")
			return err
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "write the whole stream on one line")
	cmd.Flags().BoolVar(&readable, "readable", false, "write one entry per line")
	cmd.MarkFlagsMutuallyExclusive("compact", "readable")
	return cmd
}

// ============================================================
// entries
// ============================================================

func newEntriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "entries [file]",
		Short: "List the lexical entries of a stream",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, name, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()

			out := bufio.NewWriter(cmd.OutOrStdout())
			st := newStyles(cmd.OutOrStdout())
			lex := objgraph.NewLexer(in)
			count := 0
			for {
				e := lex.Next()
				fmt.Fprintf(out, "%s %s", st.pos.Render(e.Pos.String()), st.kindStyle(e.Type).Render(e.Type.String()))
				if e.Name != "" {
					fmt.Fprintf(out, " %s", st.name.Render(e.Name))
				}
				if e.Content != "" {
					fmt.Fprintf(out, " %s", st.content.Render(e.Content))
				}
				out.WriteByte('\n')
				if e.Type == objgraph.EntryEndOfStream {
					break
				}
				count++
			}
			if err := out.Flush(); err != nil {
				return err
			}
			if err := lex.Err(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			loggerFromContext(cmd.Context()).Debug("listed entries", "input", name, "count", count)
			return nil
		},
	}
}

// ============================================================
// validate
// ============================================================

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check the structure of a stream",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, name, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()

			report, err := objgraph.Validate(in)
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}

			st := newStyles(cmd.OutOrStdout())
			out := cmd.OutOrStdout()
			if report.OK() {
				fmt.Fprintf(out, "%s %s: %d entries, depth %d\n",
					st.success.Render("ok"), name, report.Entries, report.MaxDepth)
				return nil
			}
			for _, issue := range report.Issues {
				fmt.Fprintf(out, "%s %s:%s\n", st.failure.Render("error"), name, issue)
			}
			return fmt.Errorf("%s: %d issue(s)", name, len(report.Issues))
		},
	}
}

// ============================================================
// pack / unpack
// ============================================================

func newPackCmd() *cobra.Command {
	var (
		useZstd, useCRC bool
		output          string
		zstdLevel       string
	)

	cmd := &cobra.Command{
		Use:   "pack [files...]",
		Short: "Frame one session per input file",
		Long:  `pack validates every input stream and writes it as one frame of a stream envelope. With no files, stdin is packed as a single session.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			cfg := configFromContext(cmd.Context())
			if !cmd.Flags().Changed("zstd") {
				useZstd = config.Enabled(cfg.Stream.Zstd)
			}
			if !cmd.Flags().Changed("crc") {
				useCRC = config.Enabled(cfg.Stream.CRC)
			}

			var opts []stream.WriterOption
			if zstdLevel != "" {
				ok, level := zstd.EncoderLevelFromString(zstdLevel)
				if !ok {
					return fmt.Errorf("unknown zstd level %q (want fastest, default, better or best)", zstdLevel)
				}
				useZstd = true
				opts = append(opts, stream.WithZstdLevel(level))
			} else if useZstd {
				opts = append(opts, stream.WithZstd())
			}
			if useCRC {
				opts = append(opts, stream.WithCRC())
			}

			out, closeOut, err := openOutput(cmd, output)
			if err != nil {
				return err
			}
			w := stream.NewWriter(out, opts...)

			if len(args) == 0 {
				args = []string{"-"}
			}
			for _, arg := range args {
				payload, err := readSession(cmd, arg)
				if err != nil {
					w.Close()
					closeOut()
					return err
				}
				if err := w.WritePayload(payload); err != nil {
					w.Close()
					closeOut()
					return fmt.Errorf("%s: %w", arg, err)
				}
				logger.Debug("packed session", "input", arg, "bytes", len(payload), "zstd", useZstd, "crc", useCRC)
			}
			if err := w.Close(); err != nil {
				closeOut()
				return err
			}
			return closeOut()
		},
	}
	cmd.Flags().BoolVar(&useZstd, "zstd", false, "compress payloads with zstd")
	cmd.Flags().BoolVar(&useCRC, "crc", false, "add a CRC-32 to every frame")
	cmd.Flags().StringVar(&zstdLevel, "zstd-level", "", "compress payloads with zstd at this level (fastest, default, better, best)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

// readSession reads one input and rejects it if it is not a well-formed stream.
func readSession(cmd *cobra.Command, arg string) ([]byte, error) {
	in, name, err := openInput(cmd, []string{arg})
	if err != nil {
		return nil, err
	}
	defer in.Close()

	payload, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	report, err := objgraph.Validate(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if !report.OK() {
		return nil, fmt.Errorf("%s: not a well-formed stream: %s", name, report.Issues[0])
	}
	return payload, nil
}

func openOutput(cmd *cobra.Command, path string) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

func newUnpackCmd() *cobra.Command {
	var (
		compact, noVerify bool
		index             int
	)

	cmd := &cobra.Command{
		Use:   "unpack [file]",
		Short: "Print the sessions of a stream envelope",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := loggerFromContext(cmd.Context())
			cfg := configFromContext(cmd.Context())
			format := cfg.Options().Format
			if compact {
				format = objgraph.FormatCompact
			}

			in, name, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer in.Close()

			r := stream.NewReader(in,
				stream.WithMaxPayload(cfg.Stream.MaxPayload),
				stream.WithCRCVerification(!noVerify))
			defer r.Close()

			out := cmd.OutOrStdout()
			for {
				f, err := r.Next()
				if err == io.EOF {
					return nil
				}
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				logger.Debug("unpacked frame", "seq", f.Seq, "enc", f.Encoding, "bytes", len(f.Payload), "crc", f.HasCRC())
				if index >= 0 && f.Seq != uint64(index) {
					continue
				}
				if err := objgraph.Reformat(bytes.NewReader(f.Payload), out, format); err != nil {
					return fmt.Errorf("%s: frame %d: %w", name, f.Seq, err)
				}
				if _, err := io.WriteString(out, "\n"); err != nil {
					return err
				}
			}
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "print each session on one line")
	cmd.Flags().BoolVar(&noVerify, "no-verify", false, "skip CRC verification")
	cmd.Flags().IntVar(&index, "index", -1, "print only the session with this sequence number")
	return cmd
}
