/*
Package cli provides command-line helpers used by the ironbee command.

Output Formatting:

Command results can be printed as text, JSON or CSV:

	formatter := cli.NewFormatter(cli.FormatJSON)
	if err := formatter.FormatTo(os.Stdout, report); err != nil {
		return err
	}

Text output uses the value's Text method when it has one. CSV output
requires a value implementing Tabular.

Verdict Tally:

	tally := cli.NewTally(os.Stderr, len(files))
	for _, f := range files {
		res := evaluate(f)
		tally.Record(res.Blocked)
	}
	blocked, passed := tally.Done()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()

	hup, stopHup := cli.NotifyHangup()
	defer stopHup()
*/
package cli
