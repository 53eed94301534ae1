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

package netbuf

// compPart 是 composite Window 的一个分量：加入时刻的可读字节视图
// win 为 nil 时表示该分量是 composite 自己拥有的拷贝字节
type compPart struct {
	win *Window
	b   []byte
}

// NewCompositeWindow 构造一个零分量的 composite Window
//
// composite Window 把若干分量零拷贝拼接成一个逻辑连续的可读区间：
// 随机访问与逐字节扫描跨分量定位 只有 Bytes 和跨分量 Slice 才会真正
// 拼接拷贝 AppendComponent 接管传入 Window 的引用 不额外 Retain
func NewCompositeWindow(maxCapacity int) *Window {
	w := &Window{
		composite:   true,
		maxCapacity: maxCapacity,
		rc:          &refCount{n: 1},
	}
	w.rc.onZero = func() {
		for _, p := range w.parts {
			if p.win != nil {
				p.win.Release()
			}
		}
		w.parts = nil
	}
	return w
}

// IsComposite 返回该 Window 是否由多个分量逻辑拼接而成
func (w *Window) IsComposite() bool { return w.composite }

// ComponentCount 返回分量数量 仅供诊断/测试使用
func (w *Window) ComponentCount() int { return len(w.parts) }

// AppendComponent 零拷贝追加一个分量 接管 src 的引用
//
// 追加会超出 maxCapacity 时返回 ErrNotEnoughWritable 且不持有 src
// 此时调用方应回退为 merge 路径
func (w *Window) AppendComponent(src *Window) error {
	if !w.composite {
		return newError("append component on a non-composite window")
	}
	n := src.Readable()
	if n == 0 {
		src.Release()
		return nil
	}
	if w.Writable() < n {
		return ErrNotEnoughWritable
	}
	w.parts = append(w.parts, compPart{win: src, b: src.Bytes()})
	w.writer += n
	return nil
}

// span 返回 [idx, idx+n) 的字节：连续 Window 直接返回底层切片
// composite 则跨分量拷贝进 scratch（由调用方提供 长度至少为 n）
func (w *Window) span(idx, n int, scratch []byte) ([]byte, error) {
	if !w.composite {
		if idx < 0 || idx+n > len(w.buf) {
			return nil, ErrIndexOutOfRange
		}
		return w.buf[idx : idx+n], nil
	}
	if idx < 0 || idx+n > w.writer {
		return nil, ErrIndexOutOfRange
	}
	off, k := 0, 0
	for _, p := range w.parts {
		end := off + len(p.b)
		if end <= idx {
			off = end
			continue
		}
		lo := 0
		if idx > off {
			lo = idx - off
		}
		hi := len(p.b)
		if idx+n < end {
			hi = idx + n - off
		}
		k += copy(scratch[k:n], p.b[lo:hi])
		if k >= n {
			break
		}
		off = end
	}
	return scratch[:n], nil
}

// writeSpan 把 src 原样写入 [idx, idx+len(src)) composite 时分段写入
func (w *Window) writeSpan(idx int, src []byte) error {
	if !w.composite {
		if idx < 0 || idx+len(src) > len(w.buf) {
			return ErrIndexOutOfRange
		}
		copy(w.buf[idx:], src)
		return nil
	}
	if idx < 0 || idx+len(src) > w.writer {
		return ErrIndexOutOfRange
	}
	off, k := 0, 0
	for _, p := range w.parts {
		end := off + len(p.b)
		if end <= idx+k {
			off = end
			continue
		}
		lo := idx + k - off
		k += copy(p.b[lo:], src[k:])
		if k >= len(src) {
			break
		}
		off = end
	}
	return nil
}
