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
	"time"

	"github.com/packetd/packetd/confengine"
)

// TimeoutPolicy 决定排队中的 acquire 到期后的处置方式
type TimeoutPolicy uint8

const (
	// TimeoutNone acquire 永不超时
	TimeoutNone TimeoutPolicy = iota
	// TimeoutFail 超时后以 AcquireTimedOut 拒绝该次 acquire
	TimeoutFail
	// TimeoutNew 超时后当作池仍有容量 直接为其新建一个连接（临时越过上限）
	TimeoutNew
)

// Config 是 Pool 的可调参数 可通过 confengine 从 YAML 加载
// 也可以直接构造用于编程式场景
type Config struct {
	// MaxConnections 允许同时被 acquire 持有的 Channel 数量上限
	MaxConnections int `config:"maxConnections"`

	// MaxPendingAcquires 池已满时允许排队等待的 acquire 数量上限
	MaxPendingAcquires int `config:"maxPendingAcquires"`

	// AcquireTimeout 搭配非 TimeoutNone 策略使用的等待超时
	AcquireTimeout time.Duration `config:"acquireTimeout"`

	// TimeoutPolicyName 取值 "none" | "fail" | "new"
	TimeoutPolicyName string `config:"timeoutPolicy"`

	// LastRecentUsed 为 true 时 store 采用 LIFO 策略 否则 FIFO
	LastRecentUsed bool `config:"lastRecentUsed"`

	// ReleaseHealthCheck 控制 release 时是否也执行健康检查
	ReleaseHealthCheck bool `config:"releaseHealthCheck"`
}

// TimeoutPolicy 把 TimeoutPolicyName 解析为 TimeoutPolicy 枚举 未知取值
// 视为 TimeoutNone
func (c Config) TimeoutPolicy() TimeoutPolicy {
	switch c.TimeoutPolicyName {
	case "fail":
		return TimeoutFail
	case "new":
		return TimeoutNew
	default:
		return TimeoutNone
	}
}

// DefaultConfig 返回一组保守的默认值：LIFO 存储 不启用 acquire 超时
func DefaultConfig() Config {
	return Config{
		MaxConnections:     8,
		MaxPendingAcquires: 16,
		LastRecentUsed:     true,
	}
}

// LoadConfig 从 conf 中 path 指向的子节点解包出一份 Config 未声明的字段
// 保留 DefaultConfig 的取值
func LoadConfig(conf *confengine.Config, path string) (Config, error) {
	cfg := DefaultConfig()
	if conf == nil || !conf.Has(path) {
		return cfg, nil
	}
	if err := conf.UnpackChild(path, &cfg); err != nil {
		return Config{}, newError("load config %q: %v", path, err)
	}
	return cfg, nil
}
