package backtest

import (
	"fmt"
	"time"
)

// Frequency 定时回调的触发粒度。K 线是模拟器的时钟，
// daily/weekly/monthly 按日历边界触发（落在边界后的第一根 K 线上）。
type Frequency string

const (
	FreqBar     Frequency = "bar"
	FreqDaily   Frequency = "daily"
	FreqWeekly  Frequency = "weekly"
	FreqMonthly Frequency = "monthly"
)

// ScheduleRule 描述时间规则，Every 为周期倍数（每 N 根/天/周/月）。
type ScheduleRule struct {
	Freq  Frequency
	Every int
}

type scheduledTask struct {
	id      int
	rule    ScheduleRule
	fn      func(*Context)
	periods int
	lastKey int
	seen    bool
}

// scheduler 是引擎私有的定时任务表。到期任务经由事件队列投递，
// 与成交事件共用 (timestamp, 序号) 全序。
type scheduler struct {
	tasks  []*scheduledTask
	nextID int
}

func newScheduler() *scheduler { return &scheduler{} }

func (s *scheduler) add(rule ScheduleRule, fn func(*Context)) (int, error) {
	if fn == nil {
		return 0, fmt.Errorf("回调函数不能为空")
	}
	switch rule.Freq {
	case FreqBar, FreqDaily, FreqWeekly, FreqMonthly:
	default:
		return 0, fmt.Errorf("未知调度频率: %q", rule.Freq)
	}
	if rule.Every <= 0 {
		rule.Every = 1
	}
	s.nextID++
	task := &scheduledTask{id: s.nextID, rule: rule, fn: fn}
	s.tasks = append(s.tasks, task)
	return task.id, nil
}

// due 推进各任务的周期状态，返回在当前 K 线上到期的任务。
// 任务按注册顺序返回，交由事件队列保持确定性。
func (s *scheduler) due(now time.Time) []*scheduledTask {
	var fired []*scheduledTask
	for _, t := range s.tasks {
		key := periodKey(t.rule.Freq, now)
		if t.seen && key == t.lastKey {
			continue
		}
		t.lastKey = key
		t.seen = true
		if t.periods%t.rule.Every == 0 {
			fired = append(fired, t)
		}
		t.periods++
	}
	return fired
}

func periodKey(freq Frequency, now time.Time) int {
	switch freq {
	case FreqDaily:
		return now.Year()*1000 + now.YearDay()
	case FreqWeekly:
		y, w := now.ISOWeek()
		return y*100 + w
	case FreqMonthly:
		return now.Year()*12 + int(now.Month())
	default:
		// FreqBar：每根 K 线都是新周期。
		return int(now.UnixNano())
	}
}
