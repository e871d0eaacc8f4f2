// Command airvibe-codec decodes and encodes AirVibe payloads from the shell.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/fuota"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ingest"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/security"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/version"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/waveform"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr}
	if len(args) < 1 {
		c.printUsage()
		return 1
	}

	var err error
	switch command, rest := args[0], args[1:]; command {
	case "decode":
		err = c.handleDecode(rest)
	case "encode":
		err = c.handleEncode(rest)
	case "track":
		err = c.handleTrack(rest)
	case "fuota":
		err = c.handleFuota(rest)
	case "version":
		fmt.Fprintln(stdout, version.Get())
	case "help", "-h", "--help":
		c.printUsage()
	default:
		fmt.Fprintf(stderr, "Unknown command: %s\n\n", command)
		c.printUsage()
		return 1
	}
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintf(stderr, "error: %v\n", err)
		}
		return 1
	}
	return 0
}

func (c *cli) printUsage() {
	fmt.Fprintln(c.stderr, `airvibe-codec - AirVibe LoRaWAN payload tool

Usage: airvibe-codec <command> [options]

Commands:
  decode     Decode a hex payload to JSON
  encode     Encode a JSON downlink request to hex
  track      Fold "<port> <hex>" lines through the waveform tracker
  fuota      Split a firmware image into upgrade downlinks
  version    Show version
  help       Show this help message

Examples:
  airvibe-codec decode -port 8 0301000007030081204e1500
  airvibe-codec decode -port 20 -downlink 0321
  airvibe-codec encode -port 30 < request.json
  airvibe-codec track -revision legacy-be -out ./waveforms capture.txt
  airvibe-codec fuota -blocks firmware.bin`)
}

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func revisionOptions(s string) ([]codec.Option, error) {
	rev, err := codec.ParseRevision(s)
	if err != nil {
		return nil, err
	}
	return []codec.Option{codec.WithRevision(rev)}, nil
}

// input returns the named file, or stdin when path is "" or "-".
func (c *cli) input(path string) (io.ReadCloser, error) {
	if path == "" || path == "-" {
		return io.NopCloser(c.stdin), nil
	}
	return os.Open(path)
}

func (c *cli) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *cli) warn(ws []codec.Warning) {
	for _, w := range ws {
		fmt.Fprintf(c.stderr, "warning: %s\n", w)
	}
}

func (c *cli) handleDecode(args []string) error {
	fs := c.flagSet("decode")
	port := fs.Uint("port", uint(codec.UplinkPort), "LoRaWAN fPort")
	down := fs.Bool("downlink", false, "Decode as a downlink frame")
	rev := fs.String("revision", "", "Wire revision: v2.1.2 or legacy-be")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == 0 || *port > 255 {
		return fmt.Errorf("invalid port %d", *port)
	}
	opts, err := revisionOptions(*rev)
	if err != nil {
		return err
	}

	text := strings.Join(fs.Args(), "")
	if text == "" {
		b, err := io.ReadAll(c.stdin)
		if err != nil {
			return err
		}
		text = string(b)
	}
	payload, err := codec.ParseHex(text)
	if err != nil {
		return err
	}

	if *down {
		res, err := codec.DecodeDownlink(payload, uint8(*port), opts...)
		if err != nil {
			return err
		}
		c.warn(res.Warnings)
		return c.printJSON(res)
	}
	res, err := codec.DecodeUplink(payload, uint8(*port), opts...)
	if err != nil {
		return err
	}
	c.warn(res.Warnings)
	return c.printJSON(res)
}

func (c *cli) handleEncode(args []string) error {
	fs := c.flagSet("encode")
	port := fs.Uint("port", 0, "Downlink fPort (20, 21, 22, 25, 30 or 31)")
	rev := fs.String("revision", "", "Wire revision: v2.1.2 or legacy-be")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *port == 0 || *port > 255 {
		return fmt.Errorf("-port is required")
	}
	opts, err := revisionOptions(*rev)
	if err != nil {
		return err
	}
	in, err := c.input(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()
	body, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	frame, err := codec.EncodeDownlinkJSON(uint8(*port), body, opts...)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, frame.Hex())
	return nil
}

func (c *cli) handleTrack(args []string) error {
	fs := c.flagSet("track")
	device := fs.String("device", "console", "Device id for the lines")
	rev := fs.String("revision", "", "Wire revision: v2.1.2 or legacy-be")
	out := fs.String("out", "", "Write a CSV per transaction into this directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	opts, err := revisionOptions(*rev)
	if err != nil {
		return err
	}
	in, err := c.input(fs.Arg(0))
	if err != nil {
		return err
	}
	defer in.Close()

	store := waveform.NewStore(waveform.FoldOptions{})
	sc := bufio.NewScanner(in)
	for n := 1; sc.Scan(); n++ {
		port, payload, err := ingest.ParseLine(sc.Text())
		if errors.Is(err, ingest.ErrEmptyLine) {
			continue
		}
		if err != nil {
			fmt.Fprintf(c.stderr, "line %d: %v\n", n, err)
			continue
		}
		res, err := codec.DecodeUplink(payload, port, opts...)
		if err != nil {
			fmt.Fprintf(c.stderr, "line %d: %v\n", n, err)
			continue
		}
		c.warn(res.Warnings)
		_, actions, ok := store.Ingest(*device, res.Record)
		if !ok {
			continue
		}
		for _, a := range waveform.ViewActions(actions, opts...) {
			fmt.Fprintf(c.stderr, "line %d: %s %s\n", n, a.Frame, a.Reason)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	var details []waveform.Detail
	for _, sum := range store.List() {
		tx, _ := store.Get(sum.Key)
		details = append(details, tx.Detail(opts...))
		if *out != "" && tx.HasInfo() {
			if err := writeCSVFile(*out, tx); err != nil {
				return err
			}
		}
	}
	if details == nil {
		details = []waveform.Detail{}
	}
	return c.printJSON(details)
}

func writeCSVFile(dir string, tx *waveform.Transaction) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	name := filepath.Join(dir, fmt.Sprintf("waveform_%s_tx%d.csv", security.SanitizeFilename(tx.Key.Device), tx.Key.TxID))
	if err := security.ValidatePathWithinDirectory(name, dir); err != nil {
		return err
	}
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if err := waveform.WriteCSV(f, tx); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (c *cli) handleFuota(args []string) error {
	fs := c.flagSet("fuota")
	blocks := fs.Bool("blocks", false, "Print the block list instead of downlink frames")
	rev := fs.String("revision", "", "Wire revision: v2.1.2 or legacy-be")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: airvibe-codec fuota [-blocks] <image>")
	}
	opts, err := revisionOptions(*rev)
	if err != nil {
		return err
	}
	image, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	plan, err := fuota.NewPlan(image)
	if err != nil {
		return err
	}
	if *blocks {
		return plan.WriteBlocks(c.stdout)
	}
	frames, err := fuota.Frames(plan.Downlinks(), opts...)
	if err != nil {
		return err
	}
	for _, f := range frames {
		fmt.Fprintln(c.stdout, f)
	}
	return nil
}
