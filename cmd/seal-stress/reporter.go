package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/hako/durafmt"
	"github.com/koalacxr/quantile"
	"github.com/samber/lo"

	"github.com/filecoin-project/seal-stress/lifecycle"
)

var qpoints = []struct{ q, tol float64 }{
	{0.10, 0.01},
	{0.50, 0.01},
	{0.90, 0.005},
	{0.99, 0.0005},
}

// reporter aggregates the lifecycle results of a run into a latency summary.
type reporter struct {
	// latencies of every finished lifecycle, in ms
	latencies []int64
	qua       *quantile.Estimator
	// lifecycles per epoch
	epochs map[string]int
	// failures by post-condition or error text
	errors map[string]int
}

func newReporter() *reporter {
	estims := make([]quantile.Estimate, len(qpoints))
	for i, p := range qpoints {
		estims[i] = quantile.Known(p.q, p.tol)
	}

	return &reporter{
		qua:    quantile.New(estims...),
		epochs: make(map[string]int),
		errors: make(map[string]int),
	}
}

func (r *reporter) Add(res lifecycle.RunResult) {
	r.latencies = append(r.latencies, res.Took.Milliseconds())
	r.qua.Add(float64(res.Took.Milliseconds()))
	r.epochs[res.Epoch.String()]++

	if res.Err == nil {
		return
	}

	key := res.Err.Error()
	var ae *lifecycle.AssertionError
	if errors.As(res.Err, &ae) {
		key = "assertion: " + ae.Check
	}
	if len(r.errors) < 1000 {
		r.errors[key]++
	} else {
		// don't keep too many distinct errors around
		r.errors["hidden"]++
	}
}

func (r *reporter) Print(elapsed time.Duration, w io.Writer) {
	n := int64(len(r.latencies))
	if n == 0 {
		_, _ = fmt.Fprintln(w, "No lifecycles were run")
		return
	}

	// percentiles need sorted latencies
	sort.Slice(r.latencies, func(i, j int) bool {
		return r.latencies[i] < r.latencies[j]
	})

	var total int64
	for _, l := range r.latencies {
		total += l
	}

	_, _ = fmt.Fprintf(w, "- Total lifecycles: %d\n", n)
	_, _ = fmt.Fprintf(w, "- Total duration: %s\n", durafmt.Parse(elapsed).LimitFirstN(2))
	_, _ = fmt.Fprintf(w, "- Lifecycles/min: %.2f\n", float64(n)/elapsed.Minutes())
	_, _ = fmt.Fprintf(w, "- Avg latency: %dms\n", total/n)
	_, _ = fmt.Fprintf(w, "- Median latency: %dms\n", r.latencies[n/2])
	_, _ = fmt.Fprintf(w, "- Latency distribution:\n")
	for _, p := range qpoints {
		_, _ = fmt.Fprintf(w, "    %.0f%% in %.0fms\n", p.q*100, r.qua.Get(p.q))
	}

	r.printHistogram(w)

	epochs := lo.Keys(r.epochs)
	sort.Strings(epochs)
	_, _ = fmt.Fprintf(w, "- Epochs:\n")
	for _, e := range epochs {
		_, _ = fmt.Fprintf(w, "    [%s]: %d\n", e, r.epochs[e])
	}

	if len(r.errors) == 0 {
		return
	}

	type kv struct {
		err string
		cnt int
	}
	var sorted []kv
	for err, cnt := range r.errors {
		sorted = append(sorted, kv{err, cnt})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].cnt == sorted[j].cnt {
			return sorted[i].err < sorted[j].err
		}
		return sorted[i].cnt > sorted[j].cnt
	})

	_, _ = fmt.Fprintf(w, "- Failures (top 10):\n")
	for i, se := range sorted {
		if i >= 10 {
			break
		}
		_, _ = fmt.Fprintf(w, "    [%s]: %d\n", se.err, se.cnt)
	}
}

type bucket struct {
	start, end int64
	cnt        int
}

// printHistogram spreads the latencies over 10 equal ranges.
func (r *reporter) printHistogram(w io.Writer) {
	const nrBucket = 10

	n := len(r.latencies)
	low, high := r.latencies[0], r.latencies[n-1]
	width := (high - low) / nrBucket

	buckets := make([]bucket, nrBucket)
	for i := range buckets {
		buckets[i].start = low + int64(i)*width
		buckets[i].end = buckets[i].start + width
	}
	// the last bucket takes the integer division remainder
	buckets[nrBucket-1].end = high

	cur := 0
	for _, l := range r.latencies {
		for cur < nrBucket-1 && l > buckets[cur].end {
			cur++
		}
		buckets[cur].cnt++
	}

	_, _ = fmt.Fprintf(w, "- Histogram:\n")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight|tabwriter.Debug)
	for _, b := range buckets {
		ratio := float64(b.cnt) / float64(n)
		_, _ = fmt.Fprintf(tw, "  %d-%dms\t%d\t%s (%.2f%%)\n", b.start, b.end, b.cnt, strings.Repeat("#", int(ratio*50)), ratio*100)
	}
	_ = tw.Flush()
}
