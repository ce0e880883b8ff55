package metrics

import (
	"time"

	"github.com/mbme/arhiv-sub000/pkg/manager"
	"github.com/mbme/arhiv-sub000/pkg/query"
)

// Collector periodically snapshots a Manager's archive content into the
// content gauges (spec's content metrics are sampled, not pushed, since
// the State layer has no change-notification hook of its own).
type Collector struct {
	manager *manager.Manager
	stopCh  chan struct{}
}

// NewCollector creates a collector over mgr.
func NewCollector(mgr *manager.Manager) *Collector {
	return &Collector{
		manager: mgr,
		stopCh:  make(chan struct{}),
	}
}

// Start begins collecting on a 15 second tick, in its own goroutine.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	if !c.manager.IsUnlocked() {
		return
	}

	rg, err := c.manager.Open()
	if err != nil {
		return
	}
	defer rg.Close()

	documentCounts := make(map[string]int)
	staged := 0
	for _, doc := range rg.Query(query.Filter{SkipErased: true}).Items {
		documentCounts[doc.DocumentType]++
		if doc.IsStaged() {
			staged++
		}
	}

	DocumentsTotal.Reset()
	for docType, count := range documentCounts {
		DocumentsTotal.WithLabelValues(docType).Set(float64(count))
	}

	StagedDocumentsTotal.Set(float64(staged))
	ConflictsTotal.Set(float64(len(rg.IterConflicts())))

	info := rg.GetInfo()
	DataVersion.Set(float64(info.DataVersion))
}
