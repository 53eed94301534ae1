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

package framers

import (
	"github.com/packetd/packetd/confengine"
	"github.com/packetd/packetd/corenet/netbuf"
)

// Config 是可从 YAML 加载的长度域解码器配置 字节序以名称表示
// 解码前需先经 Normalize 转换为 LengthFieldConfig
type Config struct {
	MaxFrame            int    `config:"maxFrame"`
	LengthFieldOffset   int    `config:"lengthFieldOffset"`
	LengthFieldLength   int    `config:"lengthFieldLength"`
	LengthAdjustment    int    `config:"lengthAdjustment"`
	InitialBytesToStrip int    `config:"initialBytesToStrip"`
	ByteOrder           string `config:"byteOrder"`
	FailFast            bool   `config:"failFast"`
}

// Normalize 校验字段取值并转换为 LengthFieldConfig
func (c Config) Normalize() (LengthFieldConfig, error) {
	cfg := LengthFieldConfig{
		MaxFrame:            c.MaxFrame,
		LengthFieldOffset:   c.LengthFieldOffset,
		LengthFieldLength:   LengthFieldWidth(c.LengthFieldLength),
		LengthAdjustment:    c.LengthAdjustment,
		InitialBytesToStrip: c.InitialBytesToStrip,
		ByteOrder:           netbuf.BigEndian,
		FailFast:            c.FailFast,
	}
	switch c.LengthFieldLength {
	case 1, 2, 3, 4, 8:
	default:
		return cfg, newError("unsupported length field width %d", c.LengthFieldLength)
	}
	switch c.ByteOrder {
	case "", "big", "bigEndian":
	case "little", "littleEndian":
		cfg.ByteOrder = netbuf.LittleEndian
	default:
		return cfg, newError("unknown byte order %q", c.ByteOrder)
	}
	if cfg.MaxFrame <= 0 {
		return cfg, newError("maxFrame must be positive, got %d", cfg.MaxFrame)
	}
	return cfg, nil
}

// LoadConfig 从 conf 中 path 指向的子节点解包并规整出一份 LengthFieldConfig
func LoadConfig(conf *confengine.Config, path string) (LengthFieldConfig, error) {
	var cfg Config
	if err := conf.UnpackChild(path, &cfg); err != nil {
		return LengthFieldConfig{}, newError("load config %q: %v", path, err)
	}
	return cfg.Normalize()
}
