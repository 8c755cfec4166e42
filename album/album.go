package album

import (
	"strings"
)

// Record is a single catalog entry. It is a value type: the catalog hands out
// copies, so changing an album means replacing the record at its position.
type Record struct {
	Title    string `json:"title"`
	Artist   string `json:"artist"`
	Genre    string `json:"genre"`
	CoverURL string `json:"cover_url"`
	Year     string `json:"year"`
}

func New(title, artist, genre, coverURL, year string) Record {
	return Record{
		Title:    title,
		Artist:   artist,
		Genre:    genre,
		CoverURL: coverURL,
		Year:     year,
	}
}

// Description is the textual form sent to the remote mirror.
func (r Record) Description() string {
	return strings.Join(
		[]string{
			"title: " + r.Title,
			"artist: " + r.Artist,
			"genre: " + r.Genre,
			"coverUrl: " + r.CoverURL,
			"year: " + r.Year,
		},
		", ",
	)
}

func (r Record) String() string {
	return r.Artist + " - " + r.Title + " (" + r.Year + ")"
}

// TableRepresentation returns parallel header and value slices for tabular
// display.
func (r Record) TableRepresentation() (titles []string, values []string) {
	return []string{"Artist", "Album", "Genre", "Year"},
		[]string{r.Artist, r.Title, r.Genre, r.Year}
}

// Placeholders is the fixed set a fresh catalog is seeded with.
func Placeholders() []Record {
	return []Record{
		New(
			"Best of Bowie",
			"David Bowie",
			"Pop",
			"https://s3.amazonaws.com/CoverProject/album/album_juliana_hatfield_in_exile_deo.png",
			"1992",
		),
		New(
			"It's My Life",
			"No Doubt",
			"Pop",
			"https://s3.amazonaws.com/CoverProject/album/album_juliana_hatfield_forever_baby.png",
			"2003",
		),
		New(
			"Nothing Like The Sun",
			"Sting",
			"Pop",
			"https://s3.amazonaws.com/CoverProject/album/album_mark_ronson_version.png",
			"1999",
		),
		New(
			"Staring at the Sun",
			"U2",
			"Pop",
			"https://s3.amazonaws.com/CoverProject/album/album_j_mascis_martin_and_me.png",
			"2000",
		),
		New(
			"American Pie",
			"Madonna",
			"Pop",
			"https://s3.amazonaws.com/CoverProject/album/album_mark_ronson_version.png",
			"2000",
		),
	}
}
