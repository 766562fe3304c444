// Package fabsim simulates a packet-switched interconnect fabric that joins
// a fixed number of NPU endpoints, at packet-slot granularity.  Two topologies
// are modeled and may be compared: a direct full mesh with parallel links
// between every pair of NPUs, and a switched star in which every NPU connects
// to one crossbar switch that performs virtual-output-queueing with
// round-robin egress arbitration and ECMP port spreading.
//
// fabsim is a library.  A caller builds a fabric from a FabricCfg, advances
// it cycle by cycle (directly through Step, or through an event manager via
// StartExperiment), and reads statistics snapshots.  Rendering, command line
// handling, and stimulus scripting belong to the caller.
package fabsim

// fabsim.go holds small pieces of infrastructure shared across the module:
// unique id generation and error aggregation

import (
	"errors"
	"strings"
)

// utility for generating unique integer ids on demand
var numIDs int = 0

// nxtID creates an id for objects created within the fabsim module that is
// unique among those objects
func nxtID() int {
	numIDs += 1
	return numIDs
}

// ReportErrs transforms a list of errors into a single error whose
// message joins together the individual messages, and returns nil
// if no actual error was found in the list
func ReportErrs(errs []error) error {
	errMsgs := []string{}
	for _, err := range errs {
		if err != nil {
			errMsgs = append(errMsgs, err.Error())
		}
	}
	if len(errMsgs) == 0 {
		return nil
	}
	return errors.New(strings.Join(errMsgs, "\n"))
}
