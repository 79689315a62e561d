package orders

import (
	"sort"
	"strings"
)

const (
	AllStatuses     = "ALL"
	DefaultPageSize = 20
	topN            = 3
)

// Filter keeps orders whose trimmed status equals statusFilter exactly.
// AllStatuses keeps everything.
func Filter(orders []Order, statusFilter string) []Order {
	if statusFilter == AllStatuses {
		return orders
	}
	want := strings.TrimSpace(statusFilter)
	out := []Order{}
	for _, o := range orders {
		if strings.TrimSpace(o.Status) == want {
			out = append(out, o)
		}
	}
	return out
}

// FilterBucket keeps orders classified into bucket.
func FilterBucket(orders []Order, bucket StatusBucket) []Order {
	out := []Order{}
	for _, o := range orders {
		if Classify(o.Status) == bucket {
			out = append(out, o)
		}
	}
	return out
}

// FilterKeywords keeps orders whose status carries any keyword of bucket,
// ignoring rule precedence. The processing screen lists "PICK UP DONE" this
// way even though it classifies as Completed.
func FilterKeywords(orders []Order, bucket StatusBucket) []Order {
	out := []Order{}
	for _, o := range orders {
		if MatchesKeywords(o.Status, bucket) {
			out = append(out, o)
		}
	}
	return out
}

// Statuses returns the distinct non-empty statuses, sorted.
func Statuses(orders []Order) []string {
	seen := make(map[string]struct{})
	out := []string{}
	for _, o := range orders {
		s := strings.TrimSpace(o.Status)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

type Page struct {
	Items      []Order `json:"items"`
	TotalPages int     `json:"totalPages"`
	StartIndex int     `json:"startIndex"`
}

// Paginate returns the window for page. It does not clamp page; a window
// past either end is empty.
func Paginate(orders []Order, page, pageSize int) Page {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	p := Page{
		Items:      []Order{},
		TotalPages: TotalPages(len(orders), pageSize),
		StartIndex: (page - 1) * pageSize,
	}
	if p.StartIndex < 0 || p.StartIndex >= len(orders) {
		return p
	}
	end := p.StartIndex + pageSize
	if end > len(orders) {
		end = len(orders)
	}
	p.Items = orders[p.StartIndex:end]
	return p
}

// TotalPages is ceil(count/pageSize) but never less than 1.
func TotalPages(count, pageSize int) int {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pages := (count + pageSize - 1) / pageSize
	if pages < 1 {
		return 1
	}
	return pages
}

type Ranked struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

type Stats struct {
	TotalCount   int                  `json:"totalCount"`
	BucketCounts map[StatusBucket]int `json:"bucketCounts"`
	TopRoutes    []Ranked             `json:"topRoutes"`
	TopJobTypes  []Ranked             `json:"topJobTypes"`
}

func RouteKey(o Order) string {
	return o.Origin + " → " + o.Destination
}

func Aggregate(orders []Order) Stats {
	stats := Stats{
		TotalCount:   len(orders),
		BucketCounts: make(map[StatusBucket]int, len(Buckets)),
	}
	for _, b := range Buckets {
		stats.BucketCounts[b] = 0
	}

	routes := newCounter()
	jobTypes := newCounter()
	for _, o := range orders {
		stats.BucketCounts[Classify(o.Status)]++
		routes.add(RouteKey(o))
		jobTypes.add(o.JobType)
	}

	stats.TopRoutes = routes.top(topN)
	stats.TopJobTypes = jobTypes.top(topN)
	return stats
}

// counter remembers first-seen order so ties rank by encounter.
type counter struct {
	keys   []string
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) add(key string) {
	if _, ok := c.counts[key]; !ok {
		c.keys = append(c.keys, key)
	}
	c.counts[key]++
}

func (c *counter) top(n int) []Ranked {
	ranked := make([]Ranked, len(c.keys))
	for i, k := range c.keys {
		ranked[i] = Ranked{Key: k, Count: c.counts[k]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// ViewState is the filter and page a table is showing.
type ViewState struct {
	StatusFilter string `json:"statusFilter"`
	CurrentPage  int    `json:"currentPage"`
	ItemsPerPage int    `json:"itemsPerPage"`
}

func NewViewState() ViewState {
	return ViewState{StatusFilter: AllStatuses, CurrentPage: 1, ItemsPerPage: DefaultPageSize}
}

// SetFilter changes the filter and goes back to the first page.
func (v *ViewState) SetFilter(statusFilter string) {
	if strings.TrimSpace(statusFilter) == "" {
		statusFilter = AllStatuses
	}
	v.StatusFilter = statusFilter
	v.CurrentPage = 1
}

// SetPage moves to page, bounded to [1, totalPages].
func (v *ViewState) SetPage(page, totalPages int) {
	if totalPages < 1 {
		totalPages = 1
	}
	switch {
	case page < 1:
		page = 1
	case page > totalPages:
		page = totalPages
	}
	v.CurrentPage = page
}

// Apply filters orders and returns the page the state points at, bounding
// CurrentPage to the filtered result first.
func (v *ViewState) Apply(orders []Order) Page {
	filtered := Filter(orders, v.StatusFilter)
	v.SetPage(v.CurrentPage, TotalPages(len(filtered), v.ItemsPerPage))
	return Paginate(filtered, v.CurrentPage, v.ItemsPerPage)
}
