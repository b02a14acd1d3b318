package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/IBM/sarama"
)

// ANSI color codes for log levels
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

// Config describes where log records go.
type Config struct {
	ServiceName string
	Level       slog.Level
	BufferSize  int
	// LogDir is the root directory for file logs. Records are written to
	// <LogDir>/<ServiceName>/app.log. Empty disables the file handler.
	LogDir string
	// KafkaBrokers and KafkaTopic enable the Kafka handler when both are set.
	KafkaBrokers []string
	KafkaTopic   string
}

// ParseLevel converts a textual level ("debug", "info", "warn", "error") to slog.Level.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// handlerState is the part of a handler that WithAttrs/WithGroup copy.
type handlerState struct {
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

func (s handlerState) enabled(level slog.Level) bool {
	min := slog.LevelInfo
	if s.level != nil {
		min = s.level.Level()
	}
	return level >= min
}

func (s handlerState) withAttrs(attrs []slog.Attr) handlerState {
	prefix := strings.Join(s.groups, ".")
	next := handlerState{level: s.level, groups: s.groups}
	next.attrs = append(append([]slog.Attr{}, s.attrs...), qualify(prefix, attrs)...)
	return next
}

func (s handlerState) withGroup(name string) handlerState {
	if name == "" {
		return s
	}
	next := handlerState{level: s.level, attrs: s.attrs}
	next.groups = append(append([]string{}, s.groups...), name)
	return next
}

// collect returns handler attributes followed by the record attributes.
func (s handlerState) collect(record slog.Record) []slog.Attr {
	prefix := strings.Join(s.groups, ".")
	attrs := make([]slog.Attr, 0, len(s.attrs)+record.NumAttrs())
	attrs = append(attrs, s.attrs...)
	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, qualify(prefix, []slog.Attr{a})...)
		return true
	})
	return attrs
}

// qualify flattens groups into dotted keys.
func qualify(prefix string, attrs []slog.Attr) []slog.Attr {
	out := make([]slog.Attr, 0, len(attrs))
	for _, a := range attrs {
		a.Value = a.Value.Resolve()
		key := a.Key
		if prefix != "" && key != "" {
			key = prefix + "." + key
		} else if prefix != "" {
			key = prefix
		}
		if a.Value.Kind() == slog.KindGroup {
			out = append(out, qualify(key, a.Value.Group())...)
			continue
		}
		if a.Equal(slog.Attr{}) {
			continue
		}
		out = append(out, slog.Attr{Key: key, Value: a.Value})
	}
	return out
}

func formatAttrs(attrs []slog.Attr) string {
	if len(attrs) == 0 {
		return ""
	}
	var b strings.Builder
	for _, a := range attrs {
		b.WriteByte(' ')
		b.WriteString(a.Key)
		b.WriteByte('=')
		v := a.Value.String()
		if strings.ContainsAny(v, " \t\"") {
			v = fmt.Sprintf("%q", v)
		}
		b.WriteString(v)
	}
	return b.String()
}

// kafkaSink owns the producer and the goroutines shared by all KafkaHandler copies.
type kafkaSink struct {
	producer sarama.AsyncProducer
	topic    string
	key      string
	logChan  chan []byte
	wg       sync.WaitGroup
	quitChan chan struct{}
	once     sync.Once
}

// KafkaHandler sends logs to Kafka topic asynchronously.
type KafkaHandler struct {
	sink  *kafkaSink
	state handlerState
}

// NewKafkaHandler initializes a new KafkaHandler.
func NewKafkaHandler(brokers []string, topic, serviceName string, bufferSize int, level slog.Leveler) (*KafkaHandler, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = false
	config.Producer.Return.Errors = true
	config.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create async producer: %w", err)
	}

	return newKafkaHandler(producer, topic, serviceName, bufferSize, level), nil
}

func newKafkaHandler(producer sarama.AsyncProducer, topic, serviceName string, bufferSize int, level slog.Leveler) *KafkaHandler {
	sink := &kafkaSink{
		producer: producer,
		topic:    topic,
		key:      serviceName,
		logChan:  make(chan []byte, bufferSize),
		quitChan: make(chan struct{}),
	}

	sink.wg.Add(1)
	go sink.processLogs()

	sink.wg.Add(1)
	go sink.handleProducerErrors()

	return &KafkaHandler{sink: sink, state: handlerState{level: level}}
}

// processLogs forwards encoded records to the producer.
func (k *kafkaSink) processLogs() {
	defer k.wg.Done()
	for {
		select {
		case payload := <-k.logChan:
			k.send(payload)
		case <-k.quitChan:
			// drain what is already queued
			for {
				select {
				case payload := <-k.logChan:
					k.send(payload)
				default:
					return
				}
			}
		}
	}
}

func (k *kafkaSink) send(payload []byte) {
	k.producer.Input() <- &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(k.key),
		Value: sarama.ByteEncoder(payload),
	}
}

// handleProducerErrors processes producer errors.
func (k *kafkaSink) handleProducerErrors() {
	defer k.wg.Done()
	for {
		select {
		case err, ok := <-k.producer.Errors():
			if !ok {
				return
			}
			fmt.Fprintf(os.Stderr, "failed to write message to kafka: %v\n", err)
		case <-k.quitChan:
			return
		}
	}
}

// Enabled checks if the level is enabled.
func (k *KafkaHandler) Enabled(_ context.Context, level slog.Level) bool {
	return k.state.enabled(level)
}

// Handle encodes the record and queues it for the producer.
func (k *KafkaHandler) Handle(_ context.Context, record slog.Record) error {
	logEntry := map[string]any{
		"time":    record.Time.Format(time.RFC3339),
		"level":   record.Level.String(),
		"msg":     record.Message,
		"service": k.sink.key,
	}
	for _, a := range k.state.collect(record) {
		if a.Value.Kind() == slog.KindAny {
			logEntry[a.Key] = fmt.Sprint(a.Value.Any())
			continue
		}
		logEntry[a.Key] = a.Value.Any()
	}
	payload, err := json.Marshal(logEntry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	select {
	case k.sink.logChan <- payload:
	default:
		fmt.Fprintln(os.Stderr, "log channel is full, dropping log message")
	}
	return nil
}

// WithAttrs adds attributes to the handler.
func (k *KafkaHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &KafkaHandler{sink: k.sink, state: k.state.withAttrs(attrs)}
}

// WithGroup adds a group to the handler.
func (k *KafkaHandler) WithGroup(name string) slog.Handler {
	return &KafkaHandler{sink: k.sink, state: k.state.withGroup(name)}
}

// Close gracefully shuts down KafkaHandler.
func (k *KafkaHandler) Close() error {
	var err error
	k.sink.once.Do(func() {
		close(k.sink.quitChan)
		k.sink.wg.Wait()
		if cerr := k.sink.producer.Close(); cerr != nil {
			err = fmt.Errorf("failed to close producer: %w", cerr)
		}
	})
	return err
}

type fileSink struct {
	file     io.WriteCloser
	logChan  chan string
	wg       sync.WaitGroup
	quitChan chan struct{}
	once     sync.Once
}

// FileHandler saves logs to a file asynchronously.
type FileHandler struct {
	sink  *fileSink
	state handlerState
}

// NewFileHandler initializes a new FileHandler.
func NewFileHandler(logDir, serviceName string, bufferSize int, level slog.Leveler) (*FileHandler, error) {
	dir := filepath.Join(logDir, serviceName)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	file, err := os.OpenFile(filepath.Join(dir, "app.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	return newFileHandler(file, bufferSize, level), nil
}

func newFileHandler(w io.WriteCloser, bufferSize int, level slog.Leveler) *FileHandler {
	sink := &fileSink{
		file:     w,
		logChan:  make(chan string, bufferSize),
		quitChan: make(chan struct{}),
	}

	sink.wg.Add(1)
	go sink.processLogs()

	return &FileHandler{sink: sink, state: handlerState{level: level}}
}

// processLogs reads formatted lines from a channel and writes them to the file.
func (f *fileSink) processLogs() {
	defer f.wg.Done()
	for {
		select {
		case line := <-f.logChan:
			_, _ = io.WriteString(f.file, line)
		case <-f.quitChan:
			// drain what is already queued
			for {
				select {
				case line := <-f.logChan:
					_, _ = io.WriteString(f.file, line)
				default:
					return
				}
			}
		}
	}
}

// Enabled checks if the level is enabled.
func (f *FileHandler) Enabled(_ context.Context, level slog.Level) bool {
	return f.state.enabled(level)
}

// Handle sends logs into a channel for asynchronous processing.
func (f *FileHandler) Handle(_ context.Context, record slog.Record) error {
	line := fmt.Sprintf("[%s] - %s - %s%s\n",
		record.Level.String(),
		record.Time.Format(time.RFC3339),
		record.Message,
		formatAttrs(f.state.collect(record)),
	)
	select {
	case f.sink.logChan <- line:
	default:
		fmt.Fprintln(os.Stderr, "file log channel is full, dropping log message")
	}
	return nil
}

// WithAttrs adds attributes to the handler.
func (f *FileHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &FileHandler{sink: f.sink, state: f.state.withAttrs(attrs)}
}

// WithGroup adds a group to the handler.
func (f *FileHandler) WithGroup(name string) slog.Handler {
	return &FileHandler{sink: f.sink, state: f.state.withGroup(name)}
}

// Close gracefully shuts down FileHandler.
func (f *FileHandler) Close() error {
	var err error
	f.sink.once.Do(func() {
		close(f.sink.quitChan)
		f.sink.wg.Wait()
		err = f.sink.file.Close()
	})
	return err
}

// StdoutHandler writes colored text synchronously.
type StdoutHandler struct {
	mu     *sync.Mutex
	writer io.Writer
	state  handlerState
}

// NewStdoutHandler initializes a new StdoutHandler.
func NewStdoutHandler(level slog.Leveler) *StdoutHandler {
	return NewWriterHandler(os.Stdout, level)
}

// NewWriterHandler is a StdoutHandler writing to w.
func NewWriterHandler(w io.Writer, level slog.Leveler) *StdoutHandler {
	return &StdoutHandler{mu: &sync.Mutex{}, writer: w, state: handlerState{level: level}}
}

// Enabled checks if the level is enabled.
func (s *StdoutHandler) Enabled(_ context.Context, level slog.Level) bool {
	return s.state.enabled(level)
}

// Handle processes and outputs the log record with colors synchronously.
func (s *StdoutHandler) Handle(_ context.Context, record slog.Record) error {
	var color string
	switch {
	case record.Level >= slog.LevelError:
		color = ColorRed
	case record.Level >= slog.LevelWarn:
		color = ColorYellow
	case record.Level >= slog.LevelInfo:
		color = ColorGreen
	default:
		color = ColorBlue
	}
	line := fmt.Sprintf("%s[%s]%s - %s - %s%s\n",
		color,
		record.Level.String(),
		ColorReset,
		record.Time.Format("2006-01-02 15:04:05"),
		record.Message,
		formatAttrs(s.state.collect(record)),
	)
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.writer, line)
	return err
}

// WithAttrs adds attributes to the handler.
func (s *StdoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &StdoutHandler{mu: s.mu, writer: s.writer, state: s.state.withAttrs(attrs)}
}

// WithGroup adds a group to the handler.
func (s *StdoutHandler) WithGroup(name string) slog.Handler {
	return &StdoutHandler{mu: s.mu, writer: s.writer, state: s.state.withGroup(name)}
}

// MultiHandler combines multiple handlers.
type MultiHandler struct {
	handlers []slog.Handler
}

// NewMultiHandler initializes a new MultiHandler.
func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{
		handlers: handlers,
	}
}

// Enabled checks if the level is enabled for any handler.
func (m *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle adds the record to all handlers.
func (m *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WithAttrs adds attributes to all handlers.
func (m *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return NewMultiHandler(handlers...)
}

// WithGroup adds a group to all handlers.
func (m *MultiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return NewMultiHandler(handlers...)
}

// CloseAll closes all handlers that implement the Close method.
func (m *MultiHandler) CloseAll() {
	for _, h := range m.handlers {
		if closer, ok := h.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "failed to close log handler: %v\n", err)
			}
		}
	}
}

// NewLogger initializes the combined logger. Stdout is always enabled, the file
// and Kafka handlers only when configured.
func NewLogger(cfg Config) (*slog.Logger, error) {
	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 100
	}

	handlers := []slog.Handler{NewStdoutHandler(cfg.Level)}

	var kafkaHandler *KafkaHandler
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic != "" {
		h, err := NewKafkaHandler(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ServiceName, bufferSize, cfg.Level)
		if err != nil {
			return nil, err
		}
		kafkaHandler = h
		handlers = append(handlers, h)
	}

	if cfg.LogDir != "" {
		fileHandler, err := NewFileHandler(cfg.LogDir, cfg.ServiceName, bufferSize, cfg.Level)
		if err != nil {
			if kafkaHandler != nil {
				_ = kafkaHandler.Close()
			}
			return nil, err
		}
		handlers = append(handlers, fileHandler)
	}

	return slog.New(NewMultiHandler(handlers...)).With(slog.String("service", cfg.ServiceName)), nil
}

// Close flushes and closes handlers of a logger built by NewLogger.
func Close(l *slog.Logger) {
	if multiHandler, ok := l.Handler().(*MultiHandler); ok {
		multiHandler.CloseAll()
	}
}
