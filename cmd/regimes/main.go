/*
Copyright © 2018 the Regimes authors.
This file is part of Regimes.

Regimes is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

Regimes is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with Regimes.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command regimes is a command-line interface for the Regimes grid-data
// reduction and clustering pipeline.
package main

import (
	"fmt"
	"os"

	"github.com/spatialmodel/regimes/regimesutil"
)

func main() {
	if err := regimesutil.Root.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
