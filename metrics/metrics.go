// Package metrics holds the prometheus collectors shared by the comment
// store and the HTTP layer. They register on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "murmur"

var (
	CommentsSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comments_submitted_total",
			Help:      "Total number of top-level comments submitted.",
		})
	RepliesSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_submitted_total",
			Help:      "Total number of replies submitted.",
		})
	CommentsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "comments_deleted_total",
			Help:      "Total number of comments deleted by their authors.",
		})
	LikeToggles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "like_toggles_total",
			Help:      "Total number of like toggles by resulting state.",
		}, []string{"state"})
	Rejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Total number of rejected submissions by reason.",
		}, []string{"reason"})
	PersistenceFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Total number of bucket write-backs that failed.",
		}, []string{"operation"})
)

const (
	LikeStateLiked   = "liked"
	LikeStateUnliked = "unliked"
)
