// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package blob

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (s *Store) registerMetrics() {
	factory := promauto.With(s.promRegistry)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "attest_blob_lsm_size_bytes",
			Help: "size of the archive LSM tree",
		},
		func() float64 {
			lsm, _ := s.db.Size()
			return float64(lsm)
		},
	)
	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "attest_blob_vlog_size_bytes",
			Help: "size of the archive value log",
		},
		func() float64 {
			_, vlog := s.db.Size()
			return float64(vlog)
		},
	)
}
