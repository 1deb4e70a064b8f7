// Package benchmark measures how fast power plant sources load and query.
package benchmark

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/TFMV/plantatlas/pkg/errors"
)

// Columns written by Generate, in order. They match the EIA power plant
// export, so the default schema applies.
var Columns = []string{
	"OBJECTID", "Plant_Code", "Plant_Name", "Utility_Name", "City", "County",
	"StateName", "PrimSource", "Install_MW", "Latitude", "Longitude",
}

// States and sources cycle through generated rows, so group and category
// filters have a predictable number of matches.
var (
	States  = []string{"Alabama", "Arizona", "California", "Iowa", "Montana", "Texas"}
	Sources = []string{"coal", "hydroelectric", "natural gas", "nuclear", "solar", "wind"}
)

// Generate writes a synthetic power plant CSV with rows data rows to path.
// Plant codes run from 1 to rows; row i is in States[i%6] and uses
// Sources[(i/6)%6]. Capacities and coordinates are random but repeatable
// for a given seed in [-1, 1].
func Generate(ctx context.Context, db *sql.DB, path string, rows int, seed float64) error {
	if rows < 0 {
		return errors.New(errors.CodeInvalidRequest, "row count must not be negative")
	}
	if seed < -1 || seed > 1 {
		return errors.New(errors.CodeInvalidRequest, "seed must be in [-1, 1]")
	}

	// setseed applies to one connection only.
	conn, err := db.Conn(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeSourceUnavailable, "failed to get connection")
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SELECT setseed(?)", seed); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "failed to seed generator")
	}
	if _, err := conn.ExecContext(ctx, generateQuery(path, rows)); err != nil {
		return errors.Wrapf(err, errors.CodeSourceUnavailable, "failed to write %s", path)
	}
	return nil
}

func generateQuery(path string, rows int) string {
	return fmt.Sprintf(`COPY (
	SELECT
		i + 1 AS OBJECTID,
		i + 1 AS Plant_Code,
		'Plant ' || CAST(i + 1 AS VARCHAR) AS Plant_Name,
		'Utility ' || CAST(i %% 97 AS VARCHAR) AS Utility_Name,
		'City ' || CAST(i %% 211 AS VARCHAR) AS City,
		'County ' || CAST(i %% 53 AS VARCHAR) AS County,
		%s[1 + (i %% %d)] AS StateName,
		%s[1 + ((i // %d) %% %d)] AS PrimSource,
		round(random() * 3000, 1) AS Install_MW,
		round(25 + random() * 23, 6) AS Latitude,
		round(-124 + random() * 57, 6) AS Longitude
	FROM range(0, %d) t(i)
	ORDER BY i
) TO %s (FORMAT csv, HEADER true)`,
		listLiteral(States), len(States),
		listLiteral(Sources), len(States), len(Sources),
		rows, quoteLiteral(path))
}

func listLiteral(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = quoteLiteral(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
