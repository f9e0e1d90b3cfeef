// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/524D/mzquant/quant"
)

// reagent is a reporter ion with its theoretical m/z
type reagent struct {
	name string
	mz   float64
}

// Reporter ion m/z values of the supported isobaric labels
var reagentTables = map[string][]reagent{
	`itraq4`: {
		{`114`, 114.1112},
		{`115`, 115.1083},
		{`116`, 116.1116},
		{`117`, 117.1150},
	},
	`itraq8`: {
		{`113`, 113.1078},
		{`114`, 114.1112},
		{`115`, 115.1083},
		{`116`, 116.1116},
		{`117`, 117.1150},
		{`118`, 118.1120},
		{`119`, 119.1153},
		{`121`, 121.1220},
	},
	`tmt6`: {
		{`126`, 126.127726},
		{`127`, 127.124761},
		{`128`, 128.134436},
		{`129`, 129.131471},
		{`130`, 130.141145},
		{`131`, 131.138180},
	},
	`tmt10`: tmtPro[:10],
	`tmt11`: tmtPro[:11],
	`tmt16`: tmtPro,
}

// TMT10/11/16 share their first reporter ions
var tmtPro = []reagent{
	{`126`, 126.127726},
	{`127N`, 127.124761},
	{`127C`, 127.131081},
	{`128N`, 128.128116},
	{`128C`, 128.134436},
	{`129N`, 129.131471},
	{`129C`, 129.137790},
	{`130N`, 130.134825},
	{`130C`, 130.141145},
	{`131N`, 131.138180},
	{`131C`, 131.144499},
	{`132N`, 132.141535},
	{`132C`, 132.147855},
	{`133N`, 133.144890},
	{`133C`, 133.151210},
	{`134N`, 134.148245},
}

// methodNames returns the names of the reagent tables in sorted order
func methodNames() []string {
	names := make([]string, 0, len(reagentTables))
	for n := range reagentTables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// newMethod builds a quantification method from a reagent table. The
// reference is a channel name, empty selects the first (lightest) channel.
func newMethod(name, reference string) (quant.Method, error) {
	table, ok := reagentTables[strings.ToLower(name)]
	if !ok {
		return quant.Method{}, fmt.Errorf("unknown method %q, valid methods: %s",
			name, strings.Join(methodNames(), ", "))
	}
	m := quant.Method{Name: strings.ToLower(name)}
	for i, r := range table {
		m.Channels = append(m.Channels, quant.Channel{Index: i, Mz: r.mz, Name: r.name})
	}
	if reference == `` {
		return m, m.Validate()
	}
	c, ok := m.ChannelByName(reference)
	if !ok {
		return quant.Method{}, fmt.Errorf("reference channel %q is not part of method %s", reference, m.Name)
	}
	m.Reference = c.Index
	return m, m.Validate()
}

// channelOrder parses a comma separated list of channel names into channel
// indices. An empty list selects all non-reference channels in mass order.
func channelOrder(m quant.Method, order string) ([]int, error) {
	var idx []int
	if order == `` {
		for _, c := range m.Channels {
			if c.Index != m.Reference {
				idx = append(idx, c.Index)
			}
		}
		return idx, nil
	}
	seen := make(map[int]bool)
	for _, name := range strings.Split(order, `,`) {
		c, ok := m.ChannelByName(strings.TrimSpace(name))
		if !ok {
			return nil, fmt.Errorf("channel %q is not part of method %s", name, m.Name)
		}
		if c.Index == m.Reference {
			return nil, fmt.Errorf("reference channel %s cannot be part of the channel order", c.Name)
		}
		if seen[c.Index] {
			return nil, fmt.Errorf("channel %s listed more than once", c.Name)
		}
		seen[c.Index] = true
		idx = append(idx, c.Index)
	}
	return idx, nil
}
