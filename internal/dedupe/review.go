// SPDX-FileCopyrightText: 2026 Kissaten contributors
// SPDX-License-Identifier: Apache-2.0

package dedupe

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ReviewDecision is the outcome of reviewing one cluster.
type ReviewDecision int

const (
	// ReviewApprove accepts the cluster as proposed.
	ReviewApprove ReviewDecision = iota
	// ReviewReject splits the cluster into singletons.
	ReviewReject
	// ReviewKeepSubset keeps only the returned members together.
	ReviewKeepSubset
)

// Reviewer decides the fate of clusters below the confidence threshold.
type Reviewer interface {
	Review(cluster Cluster) (decision ReviewDecision, keep []string, err error)
}

// AutoApprove accepts every cluster. It is the default for unattended runs.
type AutoApprove struct{}

// Review implements the Reviewer interface.
func (AutoApprove) Review(Cluster) (ReviewDecision, []string, error) {
	return ReviewApprove, nil, nil
}

// TerminalReviewer prompts on a terminal for each low-confidence cluster.
type TerminalReviewer struct {
	In  io.Reader
	Out io.Writer
}

// Review implements the Reviewer interface.
func (r TerminalReviewer) Review(cluster Cluster) (ReviewDecision, []string, error) {
	fmt.Fprintf(r.Out, "\nproposed farm cluster in %s/%s (confidence %.2f):\n",
		cluster.Country, cluster.RegionSlug, cluster.Confidence)
	for idx, member := range cluster.Members {
		marker := " "
		if member == cluster.CanonicalName {
			marker = "*"
		}
		fmt.Fprintf(r.Out, "  %s [%d] %s\n", marker, idx+1, member)
	}
	fmt.Fprintf(r.Out, "canonical name: %s\n", cluster.CanonicalName)

	scanner := bufio.NewScanner(r.In)
	for {
		fmt.Fprint(r.Out, "[a]pprove / [r]eject / keep subset (e.g. \"1 3\"): ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return ReviewReject, nil, err
			}
			// EOF counts as reject, so piping /dev/null is safe
			return ReviewReject, nil, nil
		}
		input := strings.TrimSpace(strings.ToLower(scanner.Text()))
		switch input {
		case "a", "approve", "y", "yes":
			return ReviewApprove, nil, nil
		case "r", "reject", "n", "no":
			return ReviewReject, nil, nil
		case "":
			continue
		}

		keep, ok := parseSubset(input, len(cluster.Members))
		if !ok {
			fmt.Fprintln(r.Out, "enter \"a\", \"r\", or member numbers separated by spaces")
			continue
		}
		members := make([]string, 0, len(keep))
		for _, idx := range keep {
			members = append(members, cluster.Members[idx])
		}
		return ReviewKeepSubset, members, nil
	}
}

func parseSubset(input string, memberCount int) (idxs []int, ok bool) {
	seen := make(map[int]bool)
	for _, field := range strings.Fields(input) {
		number, err := strconv.Atoi(field)
		if err != nil || number < 1 || number > memberCount {
			return nil, false
		}
		if !seen[number-1] {
			seen[number-1] = true
			idxs = append(idxs, number-1)
		}
	}
	return idxs, len(idxs) > 0
}
