package timelapse

import (
	"context"
	"sync"
	"time"
)

// Scheduler は周期タスクと単発イベントを1本のディスパッチゴルーチンで
// 直列に実行する。プレビュー・撮影・ステータスの各tickとエンコード完了
// イベントはすべてここを通るため、相互にプリエンプトされることはない
type Scheduler struct {
	queue chan func()

	mu      sync.Mutex
	tasks   map[string]*periodicTask
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// periodicTask は登録済み周期タスクのアーム状態
type periodicTask struct {
	ticker *time.Ticker
	stopCh chan struct{}
}

func (t *periodicTask) stop() {
	t.ticker.Stop()
	close(t.stopCh)
}

// NewScheduler は新しいSchedulerを作成する
func NewScheduler() *Scheduler {
	return &Scheduler{
		queue:  make(chan func(), 64),
		tasks:  make(map[string]*periodicTask),
		stopCh: make(chan struct{}),
	}
}

// Start はディスパッチループを開始する。多重呼び出しはno-op
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.dispatch(ctx)
}

// dispatch はキューに積まれた処理を1つずつ実行する
func (s *Scheduler) dispatch(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case fn := <-s.queue:
			fn()
		}
	}
}

// Every は指定周期でfnを実行する周期タスクを登録してアームする
// 同名タスクは置き換えられる。ディスパッチが詰まっている間のtickは
// 破棄される（次のtickで自然に再試行される）
func (s *Scheduler) Every(name string, period time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if old, ok := s.tasks[name]; ok {
		old.stop()
	}

	task := &periodicTask{
		ticker: time.NewTicker(period),
		stopCh: make(chan struct{}),
	}
	s.tasks[name] = task

	// キュー投入済みでも、実行時点で解除済みのタスクのtickは落とす。
	// Cancelが戻った後にそのタスクのfnが走らないことを保証する
	run := func() {
		select {
		case <-task.stopCh:
			return
		default:
		}
		fn()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-task.stopCh:
				return
			case <-s.stopCh:
				return
			case <-task.ticker.C:
				select {
				case s.queue <- run:
				default:
					// キューが溢れている間のtickは落とす
				}
			}
		}
	}()
}

// Cancel は周期タスクを解除する。未登録の名前はno-op
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if task, ok := s.tasks[name]; ok {
		task.stop()
		delete(s.tasks, name)
	}
}

// Post はfnをディスパッチキューに積む（非同期）
// 停止後の呼び出しは何もしない
func (s *Scheduler) Post(fn func()) {
	select {
	case s.queue <- fn:
	case <-s.stopCh:
	}
}

// Do はfnをディスパッチゴルーチン上で実行し、完了まで待つ
// 停止後の呼び出しは実行せずに戻る
func (s *Scheduler) Do(fn func()) {
	done := make(chan struct{})
	s.Post(func() {
		fn()
		close(done)
	})

	select {
	case <-done:
	case <-s.stopCh:
	}
}

// Stop は全周期タスクを解除してディスパッチループを停止する
// 多重呼び出しは安全
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for name, task := range s.tasks {
		task.stop()
		delete(s.tasks, name)
	}
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
}
