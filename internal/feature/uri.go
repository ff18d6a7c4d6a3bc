package feature

import (
	"crypto/md5"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

const (
	defaultTopcategory      = "TOX"
	defaultEndpointCategory = "UNKNOWN_TOXICITY_SECTION"
)

// RelativeURI composes the canonical relative feature URI
//
//	property/{topcategory}/{endpointcategory}/{name}/{identifier}/{guidelineUUID}
//
// Path segments are form-encoded. The guideline is replaced by its name-based
// (MD5) UUID so that arbitrarily long guideline texts still yield a bounded
// segment. The URI format is an external contract; downstream datasets key
// on it across runs.
func RelativeURI(name, topcategory, endpointcategory, identifier, guideline string) string {
	if topcategory == "" {
		topcategory = defaultTopcategory
	}
	if endpointcategory == "" {
		endpointcategory = defaultEndpointCategory
	}

	segments := []string{
		"property",
		url.QueryEscape(topcategory),
		url.QueryEscape(endpointcategory),
		url.QueryEscape(name),
		identifier,
		url.QueryEscape(guidelineUUID(guideline).String()),
	}
	return strings.Join(segments, "/")
}

// guidelineUUID is a version 3 UUID over the raw guideline bytes: MD5 digest
// with the version and RFC 4122 variant bits forced.
func guidelineUUID(guideline string) uuid.UUID {
	sum := md5.Sum([]byte(guideline))
	sum[6] = (sum[6] & 0x0f) | 0x30
	sum[8] = (sum[8] & 0x3f) | 0x80
	return uuid.UUID(sum)
}
