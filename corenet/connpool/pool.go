// Copyright 2025 The packetd Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package connpool

import (
	"github.com/google/uuid"

	"github.com/packetd/packetd/corenet/netchannel"
	"github.com/packetd/packetd/logger"
)

// Bootstrap 建立一个新的 Channel 连接
//
// 返回的 Future 在连接建立（或失败）后完成；Pool 自身不关心连接如何建立
// 只负责把结果接入 acquire/health-check 流程
type Bootstrap func() *netchannel.Future[netchannel.Context]

// HealthChecker 对一个 Channel 执行健康检查 必须只在该 Channel 自己的
// EventLoop 上调用（由 Pool 保证）
type HealthChecker func(ch netchannel.Context) bool

// acquireRequest 是一个排队等待的 acquire 每个请求至多挂一个计时器
type acquireRequest struct {
	id      string
	promise *netchannel.Promise[netchannel.Context]
	timer   *netchannel.Timer
}

// Pool 是有界、带健康检查、FIFO/LIFO 可选的 Channel 池
//
// 除 Acquire/Release/Dispose 的入口派发外 所有状态变更都被限制在 el 这个
// 专属 EventLoop 上串行执行 这与 netchannel.EventLoop 的设计笔记
// （pool 是一个邮箱即其 EventLoop 的 actor）一致
type Pool struct {
	name      string
	cfg       Config
	el        *netchannel.EventLoop
	bootstrap Bootstrap
	health    HealthChecker
	log       logger.Logger
	metrics   *metrics

	identity AttributeKey

	store         *store
	acquiredCount int
	pendingCount  int
	pendingQueue  []*acquireRequest
	disposed      bool
}

// AttributeKey 是挂载在每个由本池派发出的 Channel 上的身份标记类型别名
// 复用 netchannel.Attributes 这个线程安全槽位
type AttributeKey = netchannel.AttributeKey

// New 构造一个尚未启动的 Pool name 仅用于日志/指标标签区分多个池实例
func New(name string, cfg Config, bootstrap Bootstrap, health HealthChecker, log logger.Logger) *Pool {
	return &Pool{
		name:      name,
		cfg:       cfg,
		el:        netchannel.NewEventLoop(),
		bootstrap: bootstrap,
		health:    health,
		log:       log,
		metrics:   newMetrics(name),
		identity:  netchannel.AttributeKey("connpool.owner." + uuid.NewString()),
		store:     newStore(cfg.LastRecentUsed, cfg.MaxConnections),
	}
}

// Acquire 返回一个 Future 最终解析为一个健康的、已标记归属本池的
// Channel 或是一个 PoolError
func (p *Pool) Acquire() *netchannel.Future[netchannel.Context] {
	f, promise := netchannel.NewFuture[netchannel.Context]()
	p.el.Execute(func() {
		p.acquireOnLoop(promise)
	})
	return f
}

func (p *Pool) acquireOnLoop(promise *netchannel.Promise[netchannel.Context]) {
	if p.disposed {
		promise.Complete(nil, PoolClosed("pool %q closed on acquire", p.name))
		return
	}

	if p.acquiredCount < p.cfg.MaxConnections {
		p.acquiredCount++
		p.metrics.setAcquired(p.acquiredCount)
		p.acquireChannel(promise)
		return
	}

	if p.pendingCount < p.cfg.MaxPendingAcquires {
		p.enqueuePending(promise)
		return
	}

	promise.Complete(nil, PoolFull("pool %q: too many outstanding acquire operations", p.name))
}

// acquireChannel 在 acquiredCount 已经为这次请求预留配额之后 真正取得一
// 个 Channel：优先复用 store 中的空闲连接 否则引导建立新连接
func (p *Pool) acquireChannel(promise *netchannel.Promise[netchannel.Context]) {
	if ch, ok := p.store.pop(); ok {
		p.metrics.setIdle(p.store.len())
		p.verifyAndResolve(ch, promise)
		return
	}
	p.bootstrapNew(promise)
}

func (p *Pool) bootstrapNew(promise *netchannel.Promise[netchannel.Context]) {
	future := p.bootstrap()
	future.OnComplete(func(ch netchannel.Context, err error) {
		p.el.Execute(func() {
			if err != nil {
				p.acquiredCount--
				p.metrics.setAcquired(p.acquiredCount)
				promise.Complete(nil, err)
				p.drainPendingLocked()
				return
			}
			p.verifyAndResolve(ch, promise)
		})
	})
}

// verifyAndResolve 负责线程跳转：health check 必须发生在 ch 自己的
// EventLoop 上 而结果的处理（重新进入 acquire 或 resolve promise）
// 必须跳回 p.el
func (p *Pool) verifyAndResolve(ch netchannel.Context, promise *netchannel.Promise[netchannel.Context]) {
	ch.EventLoop().Execute(func() {
		healthy := p.health == nil || p.health(ch)
		p.el.Execute(func() {
			if p.disposed {
				ch.CloseAsync()
				promise.Complete(nil, PoolClosed("pool %q closed on acquire", p.name))
				return
			}
			if !healthy {
				p.metrics.incUnhealthyDiscard()
				p.log.Warnf("connpool %q: discarding unhealthy channel on acquire", p.name)
				ch.CloseAsync()
				// 本次预留的配额仍然有效 重新进入 acquire 重试一次
				p.acquireChannel(promise)
				return
			}
			ch.Attributes().Set(p.identity, p)
			ch.FireUserEvent(ChannelAcquired{Pool: p})
			promise.Complete(ch, nil)
		})
	})
}

func (p *Pool) enqueuePending(promise *netchannel.Promise[netchannel.Context]) {
	req := &acquireRequest{id: uuid.NewString(), promise: promise}
	p.pendingQueue = append(p.pendingQueue, req)
	p.pendingCount++
	p.metrics.setPending(p.pendingCount)

	if policy := p.cfg.TimeoutPolicy(); policy != TimeoutNone && p.cfg.AcquireTimeout > 0 {
		req.timer = p.el.Schedule(func() { p.onAcquireTimeout(req) }, p.cfg.AcquireTimeout)
	}
}

func (p *Pool) onAcquireTimeout(req *acquireRequest) {
	idx := -1
	for i, r := range p.pendingQueue {
		if r == req {
			idx = i
			break
		}
	}
	if idx < 0 {
		// 已经被 release 排空 计时器与出队之间存在竞争 属于正常情况
		return
	}
	p.pendingQueue = append(p.pendingQueue[:idx], p.pendingQueue[idx+1:]...)
	p.pendingCount--
	p.metrics.setPending(p.pendingCount)

	switch p.cfg.TimeoutPolicy() {
	case TimeoutFail:
		p.metrics.incAcquireTimeout()
		p.log.Warnf("connpool %q: acquire %s timed out after %s", p.name, req.id, p.cfg.AcquireTimeout)
		req.promise.Complete(nil, AcquireTimedOut("pool %q: acquire %s timed out after %s", p.name, req.id, p.cfg.AcquireTimeout))
	case TimeoutNew:
		// 临时越过上限：直接为其建立新连接 不占用常规配额判断
		p.log.Debugf("connpool %q: acquire %s timed out, bypassing cap per TimeoutNew policy", p.name, req.id)
		p.acquiredCount++
		p.metrics.setAcquired(p.acquiredCount)
		p.acquireChannel(req.promise)
	default:
		// TimeoutNone 不应该走到这里：没有为它安排过计时器
	}
}

// Release 归还一个先前 Acquire 得到的 Channel 必须在 ch 自己的 EventLoop
// 上被调用；内部会在结算计数与唤醒 pending 队列时跳回 p.el
func (p *Pool) Release(ch netchannel.Context) *netchannel.Future[bool] {
	f, promise := netchannel.NewFuture[bool]()
	ch.EventLoop().Execute(func() {
		p.releaseOnChannelLoop(ch, promise)
	})
	return f
}

func (p *Pool) releaseOnChannelLoop(ch netchannel.Context, promise *netchannel.Promise[bool]) {
	owner, ok := ch.Attributes().Get(p.identity)
	if !ok || owner != any(p) {
		ch.CloseAsync()
		promise.Complete(false, NotAcquiredFromThisPool("channel does not carry pool %q's identity", p.name))
		return
	}

	healthy := true
	if p.cfg.ReleaseHealthCheck && p.health != nil {
		healthy = p.health(ch)
	}

	ch.Attributes().Clear(p.identity)

	if !healthy {
		ch.FireUserEvent(ChannelReleased{Pool: p, Stored: false})
		p.el.Execute(func() {
			if p.disposed {
				promise.Complete(false, PoolClosed("pool %q closed on release", p.name))
				return
			}
			p.onChannelAccountedFor()
			promise.Complete(false, nil)
		})
		return
	}

	p.el.Execute(func() {
		if p.disposed {
			ch.CloseAsync()
			ch.FireUserEvent(ChannelReleased{Pool: p, Stored: false})
			promise.Complete(false, PoolClosed("pool %q closed on release", p.name))
			return
		}
		stored := p.store.push(ch)
		p.metrics.setIdle(p.store.len())
		if !stored {
			ch.CloseAsync()
		}
		ch.FireUserEvent(ChannelReleased{Pool: p, Stored: stored})
		p.onChannelAccountedFor()
		if !stored {
			promise.Complete(false, PoolFull("pool %q: store rejected released channel", p.name))
			return
		}
		promise.Complete(true, nil)
	})
}

// onChannelAccountedFor 必须在 p.el 上调用：一个 acquired 的 Channel 已
// 经被计数解除（无论是存回 store 还是被丢弃）之后 排空 pending 队列
func (p *Pool) onChannelAccountedFor() {
	p.acquiredCount--
	p.metrics.setAcquired(p.acquiredCount)
	p.drainPendingLocked()
}

// drainPendingLocked 在容量允许时逐个取出排队请求并为其 acquire
// 调用方必须已经在 p.el 上
func (p *Pool) drainPendingLocked() {
	for p.acquiredCount < p.cfg.MaxConnections && len(p.pendingQueue) > 0 {
		req := p.pendingQueue[0]
		p.pendingQueue = p.pendingQueue[1:]
		p.pendingCount--
		p.metrics.setPending(p.pendingCount)
		req.timer.Stop()

		p.acquiredCount++
		p.metrics.setAcquired(p.acquiredCount)
		p.acquireChannel(req.promise)
	}
}

// Dispose 拒绝所有 pending 请求 重置计数 排空并关闭 store 中的空闲
// Channel Dispose 之后的 Acquire/Release 都会失败
func (p *Pool) Dispose() *netchannel.Future[any] {
	f, promise := netchannel.NewFuture[any]()
	p.el.Execute(func() {
		p.disposed = true
		p.log.Infof("connpool %q: disposing, %d pending acquire(s) and %d idle channel(s) discarded", p.name, len(p.pendingQueue), p.store.len())

		for _, req := range p.pendingQueue {
			req.timer.Stop()
			req.promise.Complete(nil, PoolClosed("pool %q disposed", p.name))
		}
		p.pendingQueue = nil
		p.pendingCount = 0
		p.acquiredCount = 0
		p.metrics.setPending(0)
		p.metrics.setAcquired(0)

		for _, ch := range p.store.drain() {
			ch.CloseAsync()
		}
		p.metrics.setIdle(0)

		promise.Complete(nil, nil)
	})
	return f
}

// AcquiredCount 返回当前被持有的 Channel 数量 仅供诊断/测试使用
func (p *Pool) AcquiredCount() int {
	done := make(chan int, 1)
	p.el.Execute(func() { done <- p.acquiredCount })
	return <-done
}

// PendingCount 返回当前排队等待的 acquire 数量 仅供诊断/测试使用
func (p *Pool) PendingCount() int {
	done := make(chan int, 1)
	p.el.Execute(func() { done <- p.pendingCount })
	return <-done
}

// IdleCount 返回 store 中空闲 Channel 的数量 仅供诊断/测试使用
func (p *Pool) IdleCount() int {
	return p.store.len()
}

// ChannelAcquired 是 Channel 被成功 acquire 后触发的用户事件
type ChannelAcquired struct{ Pool *Pool }

// ChannelReleased 是 release 完成后触发的用户事件
// Stored 标识是否被放回 store
type ChannelReleased struct {
	Pool   *Pool
	Stored bool
}
