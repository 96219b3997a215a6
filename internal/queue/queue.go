// Пакет queue — очередь фоновых задач с одним обработчиком и повторами.
//
// Задачи выполняются строго по одной в порядке FIFO. Задача с ошибкой
// возвращается в конец очереди, пока число попыток меньше MaxRetries;
// после этого она передаётся в DeadLetterSink и публикуется в Failures().
// Между задачами, если очередь не пуста, выдерживается пауза Delay.
// Задачи, не выполненные к моменту Stop, также передаются в DeadLetterSink.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Значения по умолчанию.
const (
	DefaultMaxRetries    = 3
	DefaultDelay         = time.Second
	defaultFailureBuffer = 64
	deadLetterTimeout    = 5 * time.Second
)

// Ошибки очереди.
var (
	// ErrRetryExhausted — задача исчерпала все попытки и удалена из очереди.
	ErrRetryExhausted = errors.New("попытки выполнения задачи исчерпаны")
	// ErrUnknownTaskType — для типа задачи не зарегистрирован обработчик.
	ErrUnknownTaskType = errors.New("неизвестный тип задачи")
	// ErrStopped — очередь остановлена.
	ErrStopped = errors.New("очередь остановлена")
)

// Task — задача очереди.
type Task struct {
	// ID — идентификатор задачи
	ID string `json:"id"`
	// Type — тип задачи, по нему выбирается обработчик
	Type string `json:"type"`
	// Payload — JSON-нагрузка задачи
	Payload json.RawMessage `json:"payload"`
	// Attempts — число выполненных неудачных попыток
	Attempts int `json:"attempts"`
	// LastError — текст последней ошибки
	LastError string `json:"lastError,omitempty"`
	// EnqueuedAt — время первой постановки в очередь
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Handler выполняет задачу. Ошибка означает неудачную попытку.
type Handler func(ctx context.Context, task Task) error

// DeadLetterSink сохраняет задачи, исчерпавшие попытки.
type DeadLetterSink interface {
	Store(ctx context.Context, task Task, cause error) error
}

// Failure — окончательный отказ выполнения задачи.
type Failure struct {
	Task Task
	Err  error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("задача %s (%s): %v", f.Task.ID, f.Task.Type, f.Err)
}

// Unwrap позволяет errors.Is(f, ErrRetryExhausted) и проверку исходной ошибки.
func (f *Failure) Unwrap() []error {
	return []error{ErrRetryExhausted, f.Err}
}

// Options — параметры очереди.
type Options struct {
	// MaxRetries — максимальное число попыток (0 — DefaultMaxRetries)
	MaxRetries int
	// Delay — пауза между задачами (0 — DefaultDelay)
	Delay time.Duration
	// DeadLetters — хранилище отказавших задач (nil — только лог и Failures)
	DeadLetters DeadLetterSink
	// FailureBuffer — ёмкость канала Failures (0 — 64)
	FailureBuffer int
}

// Queue — очередь задач с одним обработчиком.
type Queue struct {
	opts     Options
	logger   *slog.Logger
	failures chan *Failure

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	items    []Task
	handlers map[string]Handler
	running  bool
	stopped  bool
}

// New создаёт очередь. Обработчик запускается при первой постановке задачи.
func New(opts Options, logger *slog.Logger) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.FailureBuffer <= 0 {
		opts.FailureBuffer = defaultFailureBuffer
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		opts:     opts,
		logger:   logger.With(slog.String("component", "task_queue")),
		failures: make(chan *Failure, opts.FailureBuffer),
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[string]Handler),
	}
}

// Register регистрирует обработчик для типа задачи.
func (q *Queue) Register(taskType string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[taskType] = h
}

// Enqueue ставит в очередь новую задачу с JSON-нагрузкой payload.
// Не ждёт выполнения задачи. Возвращает ID задачи.
func (q *Queue) Enqueue(taskType string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("сериализация нагрузки задачи %s: %w", taskType, err)
	}

	task := Task{
		ID:         uuid.New().String(),
		Type:       taskType,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := q.push(task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// Requeue повторно ставит в очередь ранее отказавшую задачу со сброшенным счётчиком попыток.
func (q *Queue) Requeue(task Task) error {
	task.Attempts = 0
	task.LastError = ""
	return q.push(task)
}

// push добавляет задачу в конец очереди и запускает обработчик, если он простаивает.
func (q *Queue) push(task Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return ErrStopped
	}

	q.items = append(q.items, task)
	queueDepth.Set(float64(len(q.items)))

	if !q.running {
		q.running = true
		q.wg.Add(1)
		go q.run()
	}
	return nil
}

// pending возвращает число задач, ожидающих выполнения.
func (q *Queue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Failures возвращает канал окончательных отказов.
// Публикация неблокирующая: при переполненном канале отказ только логируется.
func (q *Queue) Failures() <-chan *Failure {
	return q.failures
}

// Stop останавливает обработчик и ждёт завершения текущей задачи.
// Невыполненные задачи передаются в DeadLetterSink с причиной ErrStopped.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()

	q.cancel()
	q.wg.Wait()

	if n := q.pending(); n > 0 {
		q.logger.Warn("Очередь остановлена с невыполненными задачами", slog.Int("pending", n))
	}

	q.mu.Lock()
	left := q.items
	q.items = nil
	q.mu.Unlock()
	queueDepth.Set(0)

	for _, task := range left {
		q.storeDead(task, ErrStopped)
	}
	q.logger.Info("Очередь задач остановлена")
}

// run — цикл единственного обработчика.
func (q *Queue) run() {
	defer q.wg.Done()

	for {
		task, ok := q.next()
		if !ok {
			return
		}

		q.process(task)

		if q.pending() == 0 {
			continue
		}

		timer := time.NewTimer(q.opts.Delay)
		select {
		case <-q.ctx.Done():
			timer.Stop()
		case <-timer.C:
		}
	}
}

// next извлекает первую задачу. При пустой очереди или остановке
// снимает флаг running под той же блокировкой, что и push.
func (q *Queue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || q.ctx.Err() != nil {
		q.running = false
		return Task{}, false
	}

	task := q.items[0]
	q.items[0] = Task{}
	q.items = q.items[1:]
	queueDepth.Set(float64(len(q.items)))
	return task, true
}

// process выполняет одну попытку задачи и решает её дальнейшую судьбу.
func (q *Queue) process(task Task) {
	q.mu.Lock()
	h, ok := q.handlers[task.Type]
	q.mu.Unlock()

	if !ok {
		task.Attempts++
		q.fail(task, fmt.Errorf("%w: %s", ErrUnknownTaskType, task.Type))
		return
	}

	err := q.execute(h, task)
	if err == nil {
		tasksProcessed.WithLabelValues(task.Type, "ok").Inc()
		q.logger.Debug("Задача выполнена",
			slog.String("task_id", task.ID),
			slog.String("type", task.Type),
			slog.Int("attempts", task.Attempts+1),
		)
		return
	}

	task.Attempts++
	task.LastError = err.Error()

	if task.Attempts < q.opts.MaxRetries {
		tasksProcessed.WithLabelValues(task.Type, "retry").Inc()
		q.logger.Warn("Ошибка выполнения задачи, повтор",
			slog.String("task_id", task.ID),
			slog.String("type", task.Type),
			slog.Int("attempt", task.Attempts),
			slog.Int("max_retries", q.opts.MaxRetries),
			slog.String("error", err.Error()),
		)
		q.mu.Lock()
		q.items = append(q.items, task)
		queueDepth.Set(float64(len(q.items)))
		q.mu.Unlock()
		return
	}

	q.fail(task, err)
}

// execute вызывает обработчик, превращая panic в ошибку.
func (q *Queue) execute(h Handler, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic в обработчике задачи: %v", r)
		}
	}()
	return h(q.ctx, task)
}

// fail передаёт задачу в DeadLetterSink и публикует отказ.
func (q *Queue) fail(task Task, cause error) {
	tasksProcessed.WithLabelValues(task.Type, "dead").Inc()
	task.LastError = cause.Error()

	q.logger.Error("Задача удалена из очереди после исчерпания попыток",
		slog.String("task_id", task.ID),
		slog.String("type", task.Type),
		slog.Int("attempts", task.Attempts),
		slog.String("error", cause.Error()),
	)

	q.storeDead(task, cause)

	select {
	case q.failures <- &Failure{Task: task, Err: cause}:
	default:
		q.logger.Warn("Канал отказов переполнен, отказ не опубликован",
			slog.String("task_id", task.ID),
		)
	}
}

// storeDead сохраняет задачу в DeadLetterSink, если он задан.
func (q *Queue) storeDead(task Task, cause error) {
	if q.opts.DeadLetters == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deadLetterTimeout)
	defer cancel()
	if err := q.opts.DeadLetters.Store(ctx, task, cause); err != nil {
		q.logger.Error("Не удалось сохранить отказавшую задачу",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
	}
}
