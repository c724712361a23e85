// Package cluster groups feed items that describe the same story.
package cluster

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/deusflow/techfeed/internal/rss"
)

const DefaultThreshold = 0.5

// Cluster is a non-empty group of items; Items[0] is the anchor.
type Cluster struct {
	ID    string
	Items []rss.FeedItem
}

// Anchor returns the first item, against which membership was decided.
func (c Cluster) Anchor() rss.FeedItem {
	return c.Items[0]
}

// Clusterer performs single-pass greedy clustering on titles.
//
// Membership is decided against the anchor only. An item that matches a
// later member but not the anchor opens its own cluster.
type Clusterer struct {
	Threshold float64
	newID     func() string
}

func New(threshold float64) *Clusterer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Clusterer{Threshold: threshold, newID: uuid.NewString}
}

// Group partitions items into clusters in input order. Every item ends up in
// exactly one cluster.
func (c *Clusterer) Group(items []rss.FeedItem) []Cluster {
	if len(items) == 0 {
		return nil
	}

	assigned := make([]bool, len(items))
	var clusters []Cluster

	for i := range items {
		if assigned[i] {
			continue
		}
		assigned[i] = true
		current := []rss.FeedItem{items[i]}

		for j := i + 1; j < len(items); j++ {
			if assigned[j] {
				continue
			}
			if Similarity(items[i].Title, items[j].Title) > c.Threshold {
				current = append(current, items[j])
				assigned[j] = true
			}
		}

		clusters = append(clusters, Cluster{ID: c.newID(), Items: current})
	}

	return clusters
}

// Similarity is the Sørensen-Dice coefficient over character bigrams of the
// two strings with whitespace removed. Identical strings score 1; strings
// shorter than two runes score 0 unless identical.
func Similarity(a, b string) float64 {
	a = stripSpace(a)
	b = stripSpace(b)

	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) < 2 || len(rb) < 2 {
		return 0
	}

	first := make(map[string]int, len(ra)-1)
	for i := 0; i < len(ra)-1; i++ {
		first[string(ra[i:i+2])]++
	}

	intersection := 0
	for i := 0; i < len(rb)-1; i++ {
		bg := string(rb[i : i+2])
		if n := first[bg]; n > 0 {
			first[bg] = n - 1
			intersection++
		}
	}

	return 2 * float64(intersection) / float64(len(ra)+len(rb)-2)
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
