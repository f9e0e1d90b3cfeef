// Copyright 2018 Rob Marissen.
// SPDX-License-Identifier: MIT

// This file contains code to help debugging, and is
// separated in from the rest in order not to litter
// the main code with debugging stuff

package main

import (
	"fmt"
	"sync"

	"github.com/524D/mzquant/internal/mzml"
	"github.com/524D/mzquant/quant"
)

// Spectra in which none of the reporter ions was found
var unquantified []string
var unquantifiedMux sync.Mutex

func debugLogReporters(i int, numSpecs int, specID string, rt float64, method quant.Method,
	reporters []mzml.Peak, par params) {

	if par.debugSpecs == `` {
		return
	}
	found := false
	for _, p := range reporters {
		if p.Intens > 0 {
			found = true
		}
	}
	if !found {
		unquantifiedMux.Lock()
		unquantified = append(unquantified, specID)
		unquantifiedMux.Unlock()
	}

	debugMin, debugMax, _ := parseIntRange(par.debugSpecs, 0, numSpecs)
	if i < debugMin || i > debugMax {
		return
	}
	fmt.Printf("Spectrum:%d id:%s rt:%.2f\n", i, specID, rt)
	var ref float64
	for j, c := range method.Channels {
		if c.Index == method.Reference {
			ref = reporters[j].Intens
		}
	}
	for j, c := range method.Channels {
		p := reporters[j]
		fmt.Printf("%s mzCalc:%f", c.Name, c.Mz)
		if p.Intens > 0 {
			ppm := 1e6 * (p.Mz/c.Mz - 1.0)
			fmt.Printf(" mzMeas:%f(%0.2f ppm) intens:%f", p.Mz, ppm, p.Intens)
			if ref > 0 {
				fmt.Printf(" ratio:%f", p.Intens/ref)
			}
		} else {
			fmt.Printf(" not found")
		}
		if c.Index == method.Reference {
			fmt.Printf(" (reference)")
		}
		fmt.Printf("\n")
	}
}

func debugListUnquantified(par params) {
	if par.debugSpecs == `` {
		return
	}
	fmt.Printf("Spectra without reporter ions\n")
	unquantifiedMux.Lock()
	for _, s := range unquantified {
		fmt.Printf("%s\n", s)
	}
	unquantified = nil
	unquantifiedMux.Unlock()
}
