package listing

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/unkn0wn-root/listingsync/index"
	"github.com/unkn0wn-root/listingsync/records"
)

// DefaultLimit caps a page when the caller gives no limit.
const DefaultLimit = 20

type OrderBy string

const (
	OrderCreated  OrderBy = "created"
	OrderUpdated  OrderBy = "updated"
	OrderName     OrderBy = "name"
	OrderScore    OrderBy = "score"    // search only
	OrderDistance OrderBy = "distance" // search only, needs Circle
)

// Filter pages through the database.
type Filter struct {
	OwnerID        *int64
	Skip           int
	Limit          int
	Order          OrderBy // "" => created
	Desc           bool
	IncludeDeleted bool
}

var columns = map[OrderBy]string{
	OrderCreated: "created_at",
	OrderUpdated: "updated_at",
	OrderName:    "name",
}

// Records turns f into a database query.
func (f Filter) Records() records.Query {
	q := records.Query{Offset: max(f.Skip, 0), Limit: f.Limit}
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if f.OwnerID != nil {
		q.Where = append(q.Where, records.Where("owner_id = ?", *f.OwnerID))
	}
	if !f.IncludeDeleted {
		q.Where = append(q.Where, records.Where("is_delete IS NULL"))
	}
	col, ok := columns[f.Order]
	if !ok {
		col = columns[OrderCreated]
	}
	q.Order = []records.Order{{Column: col, Desc: f.Desc}, {Column: "id"}}
	return q
}

// Bound is a geo rectangle.
type Bound struct {
	TopLeft     Location `json:"top_left"`
	BottomRight Location `json:"bottom_right"`
}

func (b Bound) contains(p Location) bool {
	return p.Lat <= b.TopLeft.Lat && p.Lat >= b.BottomRight.Lat &&
		p.Lon >= b.TopLeft.Lon && p.Lon <= b.BottomRight.Lon
}

// Circle is a geo circle; RadiusKm in kilometres.
type Circle struct {
	Center   Location `json:"center"`
	RadiusKm float64  `json:"radius"`
}

// Query is a search over the index. All set conditions must hold.
type Query struct {
	Text    string     `json:"query,omitempty"`
	OwnerID *int64     `json:"owner_id,omitempty"`
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
	Bound   *Bound     `json:"geo_bound,omitempty"`
	Circle  *Circle    `json:"geo_circle,omitempty"`
	Order   OrderBy    `json:"order_by,omitempty"`
	Desc    bool       `json:"desc,omitempty"`
	Skip    int        `json:"skip,omitempty"`
	Limit   int        `json:"limit,omitempty"`
}

func (q Query) size() int {
	if q.Limit <= 0 {
		return DefaultLimit
	}
	return q.Limit
}

// Build renders q for an index: the Elasticsearch body and the equivalent
// in-process matcher and ordering.
func (q Query) Build(string) index.Query[Listing] {
	return index.Query[Listing]{
		Body:  q.body(),
		Match: q.match,
		Less:  q.less(),
		From:  max(q.Skip, 0),
		Size:  q.size(),
	}
}

func (q Query) body() map[string]any {
	var must, filter []any
	if q.Text != "" {
		must = append(must, map[string]any{
			"multi_match": map[string]any{
				"query":     q.Text,
				"fields":    []string{"name", "desc"},
				"fuzziness": "AUTO",
			},
		})
	}
	if q.OwnerID != nil {
		filter = append(filter, map[string]any{"term": map[string]any{"oid": *q.OwnerID}})
	}
	if q.From != nil || q.To != nil {
		r := map[string]any{}
		if q.From != nil {
			r["gte"] = q.From.UTC().Format(time.RFC3339Nano)
		}
		if q.To != nil {
			r["lte"] = q.To.UTC().Format(time.RFC3339Nano)
		}
		filter = append(filter, map[string]any{"range": map[string]any{"created": r}})
	}
	if q.Bound != nil {
		filter = append(filter, map[string]any{"geo_bounding_box": map[string]any{
			"location": map[string]any{
				"top_left":     q.Bound.TopLeft,
				"bottom_right": q.Bound.BottomRight,
			},
		}})
	}
	if q.Circle != nil {
		filter = append(filter, map[string]any{"geo_distance": map[string]any{
			"distance": fmt.Sprintf("%gkm", q.Circle.RadiusKm),
			"location": q.Circle.Center,
		}})
	}

	b := map[string]any{}
	if len(must) == 0 {
		must = append(must, map[string]any{"match_all": map[string]any{}})
	}
	b["must"] = must
	if len(filter) > 0 {
		b["filter"] = filter
	}
	return map[string]any{
		"query": map[string]any{"bool": b},
		"sort":  []any{q.sort()},
	}
}

func (q Query) sort() map[string]any {
	dir := "asc"
	if q.Desc {
		dir = "desc"
	}
	switch q.Order {
	case OrderScore:
		return map[string]any{"_score": map[string]any{"order": dir}}
	case OrderUpdated:
		return map[string]any{"updated": map[string]any{"order": dir}}
	case OrderName:
		return map[string]any{"name.keyword": map[string]any{"order": dir}}
	case OrderDistance:
		if q.Circle != nil {
			return map[string]any{"_geo_distance": map[string]any{
				"location": q.Circle.Center,
				"order":    dir,
				"unit":     "km",
			}}
		}
	}
	return map[string]any{"created": map[string]any{"order": dir}}
}

func (q Query) match(l *Listing) bool {
	if q.Text != "" {
		text := strings.ToLower(q.Text)
		if !strings.Contains(strings.ToLower(l.Name), text) &&
			!strings.Contains(strings.ToLower(l.Description), text) {
			return false
		}
	}
	if q.OwnerID != nil && (l.OwnerID == nil || *l.OwnerID != *q.OwnerID) {
		return false
	}
	if q.From != nil && l.CreatedAt.Before(*q.From) {
		return false
	}
	if q.To != nil && l.CreatedAt.After(*q.To) {
		return false
	}
	if q.Bound != nil || q.Circle != nil {
		if l.Location == nil {
			return false
		}
		if q.Bound != nil && !q.Bound.contains(*l.Location) {
			return false
		}
		if q.Circle != nil && DistanceKm(q.Circle.Center, *l.Location) > q.Circle.RadiusKm {
			return false
		}
	}
	return true
}

// less is nil for score ordering; the in-process engine has no scores.
func (q Query) less() func(a, b *Listing) bool {
	var key func(a, b *Listing) int
	switch q.Order {
	case OrderScore:
		return nil
	case OrderUpdated:
		key = func(a, b *Listing) int { return compareTime(a.UpdatedAt, b.UpdatedAt) }
	case OrderName:
		key = func(a, b *Listing) int { return strings.Compare(a.Name, b.Name) }
	case OrderDistance:
		if q.Circle != nil {
			c := q.Circle.Center
			key = func(a, b *Listing) int { return compareFloat(distanceOrInf(c, a), distanceOrInf(c, b)) }
			break
		}
		fallthrough
	default:
		key = func(a, b *Listing) int { return a.CreatedAt.Compare(b.CreatedAt) }
	}
	if q.Desc {
		return func(a, b *Listing) bool { return key(a, b) > 0 }
	}
	return func(a, b *Listing) bool { return key(a, b) < 0 }
}

func compareTime(a, b *time.Time) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return a.Compare(*b)
}

func compareFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func distanceOrInf(c Location, l *Listing) float64 {
	if l.Location == nil {
		return math.Inf(1)
	}
	return DistanceKm(c, *l.Location)
}

const earthRadiusKm = 6371.0088

// DistanceKm is the great-circle distance between a and b.
func DistanceKm(a, b Location) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(b.Lat - a.Lat)
	dLon := rad(b.Lon - a.Lon)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}
