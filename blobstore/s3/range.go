package s3

import "strconv"

// httpRange formats an inclusive byte range header.
func httpRange(start, end int64) string {
	return "bytes=" + strconv.FormatInt(start, 10) + "-" + strconv.FormatInt(end, 10)
}
