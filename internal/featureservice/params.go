package featureservice

import (
	"net/url"
	"strconv"
	"strings"
)

// QueryParams are the /query request parameters the runtime uses.
type QueryParams struct {
	// Where is the attribute predicate; empty means "1=1".
	Where string

	// OutFields lists returned attributes; empty means all ("*").
	OutFields []string

	// ResultRecordCount limits the number of features; 0 means service default.
	ResultRecordCount int

	// ResultOffset skips features for paging.
	ResultOffset int

	ReturnGeometry  bool
	ReturnCountOnly bool

	// OutSR is the output spatial reference WKID; 0 leaves it to the service.
	OutSR int

	// ObjectIDs restricts the query to specific features.
	ObjectIDs []int64
}

func (p QueryParams) where() string {
	if strings.TrimSpace(p.Where) == "" {
		return "1=1"
	}
	return p.Where
}

func (p QueryParams) baseValues() url.Values {
	return url.Values{"f": []string{"json"}}
}

// Values encodes the parameters for the /query endpoint.
func (p QueryParams) Values() url.Values {
	v := p.baseValues()
	v.Set("where", p.where())

	if p.ReturnCountOnly {
		v.Set("returnCountOnly", "true")
		return v
	}

	if len(p.OutFields) == 0 {
		v.Set("outFields", "*")
	} else {
		v.Set("outFields", strings.Join(p.OutFields, ","))
	}
	if p.ResultRecordCount > 0 {
		v.Set("resultRecordCount", strconv.Itoa(p.ResultRecordCount))
	}
	if p.ResultOffset > 0 {
		v.Set("resultOffset", strconv.Itoa(p.ResultOffset))
	}
	v.Set("returnGeometry", strconv.FormatBool(p.ReturnGeometry))
	if p.OutSR > 0 {
		v.Set("outSR", strconv.Itoa(p.OutSR))
	}
	if len(p.ObjectIDs) > 0 {
		ids := make([]string, len(p.ObjectIDs))
		for i, id := range p.ObjectIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		v.Set("objectIds", strings.Join(ids, ","))
	}
	return v
}
