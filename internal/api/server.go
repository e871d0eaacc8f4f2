package api

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/codec"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/fuota"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/httputil"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/ingest"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/security"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/serialmux"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/version"
	"github.com/Machine-Saver-Inc/AirVibe-LoRaWAN-Wiki/internal/waveform"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	maxPayloadBody = 64 << 10
	maxImageBody   = int64(fuota.MaxImageSize)
	defaultDevice  = "console"
)

type Server struct {
	m        serialmux.SerialMuxInterface
	pipeline *ingest.Pipeline
}

// NewServer builds the API around pipeline. m may be nil when no serial
// console is configured.
func NewServer(m serialmux.SerialMuxInterface, pipeline *ingest.Pipeline) *Server {
	return &Server{m: m, pipeline: pipeline}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware tags each request with an X-Request-ID and logs method,
// path, query, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms id=%s",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6, id,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /decode", s.decode)
	mux.HandleFunc("POST /encode", s.encode)
	mux.HandleFunc("POST /tracker/lines", s.trackerLines)
	mux.HandleFunc("GET /tracker/transactions", s.listTransactions)
	mux.HandleFunc("DELETE /tracker/transactions", s.resetTransactions)
	mux.HandleFunc("GET /tracker/transactions/{device}/{tx}", s.showTransaction)
	mux.HandleFunc("DELETE /tracker/transactions/{device}/{tx}", s.deleteTransaction)
	mux.HandleFunc("GET /tracker/transactions/{device}/{tx}/export.csv", s.export(csvExport))
	mux.HandleFunc("GET /tracker/transactions/{device}/{tx}/export.xlsx", s.export(xlsxExport))
	mux.HandleFunc("GET /tracker/transactions/{device}/{tx}/export.png", s.export(pngExport))
	mux.HandleFunc("GET /tracker/transactions/{device}/{tx}/chart", s.export(chartExport))
	mux.HandleFunc("POST /fuota/plan", s.fuotaPlan)
	mux.HandleFunc("POST /command", s.sendCommandHandler)
	mux.HandleFunc("GET /version", s.showVersion)
	return mux
}

func (s *Server) codecOptions(r *http.Request) ([]codec.Option, error) {
	v := r.URL.Query().Get("revision")
	if v == "" {
		return s.pipeline.CodecOptions(), nil
	}
	rev, err := codec.ParseRevision(v)
	if err != nil {
		return nil, err
	}
	return []codec.Option{codec.WithRevision(rev)}, nil
}

func queryPort(r *http.Request, def uint8) (uint8, error) {
	v := r.URL.Query().Get("port")
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 8)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid 'port' parameter %q", v)
	}
	return uint8(n), nil
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			httputil.BadRequest(w, "failed to read request body")
		}
		return nil, false
	}
	return body, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request) {
	opts, err := s.codecOptions(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	port, err := queryPort(r, codec.UplinkPort)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	body, ok := readBody(w, r, maxPayloadBody)
	if !ok {
		return
	}
	payload, err := codec.ParseHex(string(body))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	switch dir := r.URL.Query().Get("direction"); dir {
	case "", "up", "uplink":
		res, err := codec.DecodeUplink(payload, port, opts...)
		if err != nil {
			httputil.UnprocessableEntity(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, res)
	case "down", "downlink":
		res, err := codec.DecodeDownlink(payload, port, opts...)
		if err != nil {
			httputil.UnprocessableEntity(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, res)
	default:
		httputil.BadRequest(w, fmt.Sprintf("invalid 'direction' parameter %q", dir))
	}
}

func (s *Server) encode(w http.ResponseWriter, r *http.Request) {
	opts, err := s.codecOptions(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if r.URL.Query().Get("port") == "" {
		httputil.BadRequest(w, "missing 'port' parameter")
		return
	}
	port, err := queryPort(r, 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	body, ok := readBody(w, r, maxPayloadBody)
	if !ok {
		return
	}
	frame, err := codec.EncodeDownlinkJSON(port, body, opts...)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, frame)
}

// lineResult reports what one posted line did.
type lineResult struct {
	Line        int                   `json:"line"`
	EventID     string                `json:"event_id,omitempty"`
	PacketType  uint8                 `json:"packet_type,omitempty"`
	Transaction *waveform.Key         `json:"transaction,omitempty"`
	Warnings    []codec.Warning       `json:"warnings,omitempty"`
	Actions     []waveform.ActionView `json:"actions,omitempty"`
	Error       string                `json:"error,omitempty"`
}

type linesResponse struct {
	Device       string             `json:"device"`
	Lines        []lineResult       `json:"lines"`
	Transactions []waveform.Summary `json:"transactions"`
}

func (s *Server) trackerLines(w http.ResponseWriter, r *http.Request) {
	device := r.URL.Query().Get("device")
	if device == "" {
		device = defaultDevice
	}
	body, ok := readBody(w, r, maxPayloadBody)
	if !ok {
		return
	}

	resp := linesResponse{Device: device, Lines: []lineResult{}, Transactions: []waveform.Summary{}}
	touched := map[waveform.Key]waveform.Summary{}
	var order []waveform.Key

	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 4096), maxPayloadBody)
	for n := 1; sc.Scan(); n++ {
		ev, err := s.pipeline.HandleLine(r.Context(), device, sc.Text())
		if errors.Is(err, ingest.ErrEmptyLine) {
			continue
		}
		lr := lineResult{Line: n, EventID: ev.ID}
		if err != nil {
			lr.Error = err.Error()
			resp.Lines = append(resp.Lines, lr)
			continue
		}
		lr.PacketType = ev.Result.Record.PacketType()
		lr.Warnings = ev.Result.Warnings
		if ev.Transaction != nil {
			key := ev.Transaction.Key
			lr.Transaction = &key
			lr.Actions = waveform.ViewActions(ev.Actions, s.pipeline.CodecOptions()...)
			if _, seen := touched[key]; !seen {
				order = append(order, key)
			}
			touched[key] = ev.Transaction.Summary()
		}
		resp.Lines = append(resp.Lines, lr)
	}
	if err := sc.Err(); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	for _, k := range order {
		resp.Transactions = append(resp.Transactions, touched[k])
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) listTransactions(w http.ResponseWriter, r *http.Request) {
	list := s.pipeline.Store().List()
	if device := r.URL.Query().Get("device"); device != "" {
		filtered := list[:0]
		for _, sum := range list {
			if sum.Key.Device == device {
				filtered = append(filtered, sum)
			}
		}
		list = filtered
	}
	if list == nil {
		list = []waveform.Summary{}
	}
	httputil.WriteJSONOK(w, list)
}

func (s *Server) resetTransactions(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]int{"deleted": s.pipeline.Store().Reset()})
}

func pathKey(r *http.Request) (waveform.Key, error) {
	tx, err := strconv.ParseUint(r.PathValue("tx"), 0, 8)
	if err != nil {
		return waveform.Key{}, fmt.Errorf("invalid transaction id %q", r.PathValue("tx"))
	}
	return waveform.Key{Device: r.PathValue("device"), TxID: uint8(tx)}, nil
}

// lookup resolves the transaction named in the path, writing the error
// response itself when it fails.
func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (*waveform.Transaction, bool) {
	key, err := pathKey(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	tx, ok := s.pipeline.Store().Get(key)
	if !ok {
		httputil.NotFound(w, "no transaction "+key.String())
		return nil, false
	}
	return tx, true
}

func (s *Server) showTransaction(w http.ResponseWriter, r *http.Request) {
	tx, ok := s.lookup(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, tx.Detail(s.pipeline.CodecOptions()...))
}

func (s *Server) deleteTransaction(w http.ResponseWriter, r *http.Request) {
	key, err := pathKey(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if !s.pipeline.Store().Delete(key) {
		httputil.NotFound(w, "no transaction "+key.String())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type exportKind struct {
	contentType string
	ext         string
	attachment  bool
	write       func(io.Writer, *waveform.Transaction) error
}

var (
	csvExport   = exportKind{"text/csv", "csv", true, waveform.WriteCSV}
	xlsxExport  = exportKind{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "xlsx", true, waveform.WriteXLSX}
	pngExport   = exportKind{"image/png", "png", false, waveform.WritePNG}
	chartExport = exportKind{"text/html; charset=utf-8", "html", false, waveform.RenderChart}
)

func exportFilename(key waveform.Key, ext string) string {
	return fmt.Sprintf("waveform_%s_tx%d.%s", security.SanitizeFilename(key.Device), key.TxID, ext)
}

// export renders into a buffer first so a failed render still gets a JSON
// error instead of a truncated file.
func (s *Server) export(kind exportKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tx, ok := s.lookup(w, r)
		if !ok {
			return
		}
		var buf bytes.Buffer
		if err := kind.write(&buf, tx); err != nil {
			if errors.Is(err, waveform.ErrNotReady) {
				httputil.Conflict(w, err.Error())
				return
			}
			httputil.InternalServerError(w, fmt.Sprintf("failed to export waveform: %v", err))
			return
		}
		w.Header().Set("Content-Type", kind.contentType)
		if kind.attachment {
			w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exportFilename(tx.Key, kind.ext)))
		}
		if _, err := buf.WriteTo(w); err != nil {
			log.Printf("failed to write %s export: %v", kind.ext, err)
		}
	}
}

type planResponse struct {
	Size     uint32            `json:"size"`
	Blocks   int               `json:"blocks"`
	Frames   []codec.Frame     `json:"frames"`
	Manifest map[string]string `json:"manifest,omitempty"`
}

// fuotaPlan frames a posted firmware image. format=blocks returns the
// plain-text block list instead of JSON.
func (s *Server) fuotaPlan(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r, maxImageBody)
	if !ok {
		return
	}
	plan, err := fuota.NewPlan(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "frames", "manifest":
		frames, err := fuota.Frames(plan.Downlinks(), s.pipeline.CodecOptions()...)
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		resp := planResponse{Size: plan.Size, Blocks: len(plan.Chunks), Frames: frames}
		if format == "manifest" {
			resp.Manifest = plan.Manifest()
		}
		httputil.WriteJSONOK(w, resp)
	case "blocks":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if err := plan.WriteBlocks(w); err != nil {
			log.Printf("failed to write block list: %v", err)
		}
	default:
		httputil.BadRequest(w, fmt.Sprintf("invalid 'format' parameter %q", format))
	}
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if s.m == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "serial console not configured")
		return
	}
	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		httputil.BadRequest(w, "missing 'command' value")
		return
	}
	if err := s.m.SendCommand(command); err != nil {
		httputil.InternalServerError(w, "failed to send command")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "sent"})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}
