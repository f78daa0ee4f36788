package historical

// EmptyAverageTravelTime returns the zeroed hourly travel time result.
func EmptyAverageTravelTime() AverageTravelTimeData {
	return AverageTravelTimeData{
		RouteHourlyAverages: map[string]HourlyValues{},
		HourlyTotalAverages: map[int]HourTotal{},
	}
}

// AverageTravelTimeByHour reports, per route and hour, the travel time
// averaged over the selected dates, and per hour the network total: the sum
// over distinct routes on each date, averaged over dates. Only hours with
// data appear. Records must carry a valid static duration.
func AverageTravelTimeByHour(q Query, opts Options) (AverageTravelTimeData, error) {
	p, err := prepare(q, opts)
	if err != nil {
		if isMissingInput(err) {
			opts.Logger.Debug().Err(err).Msg("average travel time: empty result")
			return EmptyAverageTravelTime(), nil
		}
		return EmptyAverageTravelTime(), err
	}

	grid, tally := collectCells(p, q.Records, q.ValidRouteIDs, StrictFreeFlowPolicy, opts.Encoding)
	tally.log(opts.Logger, "average_travel_time", grid.used)

	out := EmptyAverageTravelTime()
	routes := grid.routes()
	for h := 0; h < 24; h++ {
		totals, _ := grid.networkTotals(h)
		if len(totals) == 0 {
			continue
		}
		out.HourlyTotalAverages[h] = HourTotal{
			TotalDuration: round2(Mean(totals)),
			Count:         len(totals),
		}

		for _, id := range routes {
			durations, _ := grid.routeValues(h, id)
			if len(durations) == 0 {
				continue
			}
			byHour := out.RouteHourlyAverages[id]
			if byHour == nil {
				byHour = HourlyValues{}
				out.RouteHourlyAverages[id] = byHour
			}
			byHour[h] = round2(Mean(durations))
		}
	}
	return out, nil
}
