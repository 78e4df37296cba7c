package metrics

import (
	"math"
	"math/big"
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// EvolutionMetrics tracks registrations, promotions and reward payouts.
type EvolutionMetrics struct {
	registrations *prometheus.CounterVec
	promotions    *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	adminUpdates  *prometheus.CounterVec
	rewardsPaid   prometheus.Counter
	rewardPool    prometheus.Gauge
}

var (
	evolutionOnce     sync.Once
	evolutionRegistry *EvolutionMetrics
)

func Evolution() *EvolutionMetrics {
	evolutionOnce.Do(func() {
		evolutionRegistry = &EvolutionMetrics{
			registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "evolution_registrations_total",
				Help: "Count of accepted registrations by verification type.",
			}, []string{"verification"}),
			promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "evolution_promotions_total",
				Help: "Count of level promotions by destination level.",
			}, []string{"level"}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "evolution_rejections_total",
				Help: "Count of rejected operations by operation and error class.",
			}, []string{"operation", "class"}),
			adminUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "evolution_admin_updates_total",
				Help: "Count of committed administrative table updates.",
			}, []string{"operation"}),
			rewardsPaid: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "evolution_rewards_paid",
				Help: "Cumulative reward amount credited from the pool.",
			}),
			rewardPool: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "evolution_reward_pool",
				Help: "Remaining reward supply.",
			}),
		}
		prometheus.MustRegister(
			evolutionRegistry.registrations,
			evolutionRegistry.promotions,
			evolutionRegistry.rejections,
			evolutionRegistry.adminUpdates,
			evolutionRegistry.rewardsPaid,
			evolutionRegistry.rewardPool,
		)
	})
	return evolutionRegistry
}

func (m *EvolutionMetrics) ObserveRegistration(verification string) {
	if m == nil {
		return
	}
	if verification == "" {
		verification = "unknown"
	}
	m.registrations.WithLabelValues(verification).Inc()
}

func (m *EvolutionMetrics) ObservePromotion(level uint8) {
	if m == nil {
		return
	}
	m.promotions.WithLabelValues(strconv.Itoa(int(level))).Inc()
}

// ObserveRejection records a failed operation. class is the error taxonomy
// class, e.g. "authorization".
func (m *EvolutionMetrics) ObserveRejection(operation, class string) {
	if m == nil {
		return
	}
	if class == "" {
		class = "internal"
	}
	m.rejections.WithLabelValues(operation, class).Inc()
}

func (m *EvolutionMetrics) ObserveAdminUpdate(operation string) {
	if m == nil {
		return
	}
	m.adminUpdates.WithLabelValues(operation).Inc()
}

func (m *EvolutionMetrics) ObserveReward(amount, remaining *big.Int) {
	if m == nil {
		return
	}
	if v := bigToFloat(amount); v > 0 {
		m.rewardsPaid.Add(v)
	}
	m.rewardPool.Set(bigToFloat(remaining))
}

func (m *EvolutionMetrics) SetRewardPool(remaining *big.Int) {
	if m == nil {
		return
	}
	m.rewardPool.Set(bigToFloat(remaining))
}

func bigToFloat(value *big.Int) float64 {
	if value == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(value).Float64()
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
