// MIT License
//
// # Copyright (c) 2023 Jimmy Fjällid
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package smb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Rotation triggers used as metric labels and in Stats.
const (
	TriggerManual = "manual"
	TriggerBytes  = "bytes"
	TriggerTime   = "time"
	TriggerNonce  = "nonce"
)

// Metrics records transform and key rotation activity. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	bytes     *prometheus.CounterVec
	messages  *prometheus.CounterVec
	rotations *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		bytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "smb_transform_bytes_total",
				Help: "Total plaintext bytes passed through the SMB3 transform by direction",
			},
			[]string{"direction"}, // "encrypt", "decrypt"
		),
		messages: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "smb_transform_messages_total",
				Help: "Total messages passed through the SMB3 transform by direction and cipher",
			},
			[]string{"direction", "cipher"},
		),
		rotations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "smb_key_rotations_total",
				Help: "Total encryption key rotations by trigger",
			},
			[]string{"trigger"}, // "manual", "bytes", "time", "nonce"
		),
		failures: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "smb_transform_failures_total",
				Help: "Total transform failures by kind",
			},
			[]string{"kind"}, // "precondition", "authentication", "decode", "rotation"
		),
	}
}

func (m *Metrics) recordEncrypt(cipherID uint16, n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues("encrypt").Add(float64(n))
	m.messages.WithLabelValues("encrypt", CipherName(cipherID)).Inc()
}

func (m *Metrics) recordDecrypt(cipherID uint16, n int) {
	if m == nil {
		return
	}
	m.bytes.WithLabelValues("decrypt").Add(float64(n))
	m.messages.WithLabelValues("decrypt", CipherName(cipherID)).Inc()
}

func (m *Metrics) recordRotation(trigger string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(trigger).Inc()
}

func (m *Metrics) recordFailure(kind string) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}
