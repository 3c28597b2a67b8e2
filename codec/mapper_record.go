package codec

import (
	"bytes"
	"strconv"
	"strings"
)

const (
	mapperPrefix = "BAT_MAPPER;;"
	realmMap     = "REALM_MAP"
)

// ParseMapper decodes the body of a special section into a MapperRecord. The
// layout is
//
//	BAT_MAPPER;;<area>;;<id>;;<direction>;;<from>;;<indoors>;;<short>;;<long>;;<exits>;;
//
// Missing trailing fields are left empty. It returns nil for bodies that are
// not mapper data. Raw is left for the caller to fill in.
func ParseMapper(body []byte) *MapperRecord {
	if !bytes.HasPrefix(body, []byte(mapperPrefix)) {
		return nil
	}

	fields := strings.Split(string(body[len(mapperPrefix):]), ";;")
	field := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}

	rec := &MapperRecord{Area: field(0)}
	if rec.Area == realmMap {
		return rec
	}

	if id, err := strconv.ParseInt(strings.TrimSpace(field(1)), 10, 64); err == nil && id >= 0 {
		rec.ID = &id
	}

	rec.Direction = field(2)
	rec.From = field(3)
	rec.Indoors = strings.TrimSpace(field(4)) == "1"
	rec.Short = field(5)
	rec.Long = field(6)
	rec.Exits = field(7)
	rec.Output = render(rec)

	return rec
}

// render is what the primary client sees for a room: the description the
// server would have printed without bc mode.
func render(rec *MapperRecord) []byte {
	text := rec.Long
	if text == "" {
		text = rec.Short
	}
	if text == "" {
		return nil
	}

	if !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	return []byte(text)
}
