package task

import (
	"time"

	"github.com/blues/escrow/internal/logger"
	"github.com/go-co-op/gocron/v2"
)

// Sweeper 清理过期投影
type Sweeper interface {
	Sweep() int
}

// CacheSweepJob 投影缓存清理任务
type CacheSweepJob struct {
	sweeper  Sweeper
	interval time.Duration
}

// NewCacheSweepJob 创建缓存清理任务
func NewCacheSweepJob(sweeper Sweeper, interval time.Duration) *CacheSweepJob {
	return &CacheSweepJob{sweeper: sweeper, interval: interval}
}

// GetName 获取任务名称
func (j *CacheSweepJob) GetName() string {
	return "projection_cache_sweeper"
}

// GetSchedule 获取调度配置
func (j *CacheSweepJob) GetSchedule() gocron.JobDefinition {
	return gocron.DurationJob(j.interval)
}

// Execute 执行任务
func (j *CacheSweepJob) Execute() {
	if n := j.sweeper.Sweep(); n > 0 {
		logger.Debug("Swept %d expired projections", n)
	}
}
