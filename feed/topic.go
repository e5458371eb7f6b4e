// Copyright (c) Microsoft Corporation.
// Licensed under the MIT License.
package feed

import (
	"strings"

	"github.com/loadgrid/weighcore/errors"
	"github.com/loadgrid/weighcore/scale"
)

// SampleTopic returns the topic on which one node publishes its readings.
func SampleTopic(site string, node scale.NodeID) string {
	return "weigh/" + site + "/node/" + node.String() + "/sample"
}

// SampleFilter returns the filter covering every node's sample stream at a
// site.
func SampleFilter(site string) string {
	return "weigh/" + site + "/node/+/sample"
}

// WeightTopic returns the topic on which the site's weight outputs are
// published.
func WeightTopic(site string) string {
	return "weigh/" + site + "/weight"
}

// checkSite rejects site names that would break out of their topic segment.
func checkSite(site string) error {
	if site == "" || strings.ContainsAny(site, "/+#\x00") {
		return &errors.Error{
			Message:       "site is not a valid topic segment",
			Kind:          errors.ConfigurationInvalid,
			PropertyName:  "Site",
			PropertyValue: site,
		}
	}
	return nil
}
