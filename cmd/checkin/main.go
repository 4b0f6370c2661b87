// -----------------------------------------------------------------------
// Last Modified: Friday, 16th October 2026 2:41:27 pm
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package main

import (
	"os"

	"github.com/ternarybob/checkin/internal/cli"
	"github.com/ternarybob/checkin/internal/common"
)

func main() {
	defer common.RecoverWithCrashFile()

	os.Exit(cli.Execute())
}
