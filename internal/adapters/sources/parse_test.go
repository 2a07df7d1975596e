package sources

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/paddock/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

var testMeta = Meta{
	SourceID:   "paste",
	Tier:       model.TierKnownOdds,
	Day:        time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC),
	CapturedAt: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
}

func runnerNamed(doc model.RawDocument, name string) (model.RawRunner, bool) {
	for _, r := range doc.Runners {
		if r.Name == name {
			return r, true
		}
	}
	return model.RawRunner{}, false
}

func TestTextParser(t *testing.T) {
	Convey("Given a pasted block with two meetings", t, func() {
		block := `
Ascot 2026-10-18
Race 1 13:30 Handicap
1 Alpha 7/2
2 Bravo EVS
3 Charlie Brown NR
Race 2 2:05 PM Maiden Stakes
1 Delta 5.5

York
Race 3
1 Echo SP
2 Foxtrot 9/2 SP 4/1
3 Golf Hotel SP 7/2
`
		docs, err := TextParser{}.Parse([]byte(block), testMeta)

		Convey("Then every race becomes a document", func() {
			So(err, ShouldBeNil)
			So(docs, ShouldHaveLength, 3)
			So(docs[0].RaceKey, ShouldEqual, "ascot::2026-10-18::r01")
			So(docs[1].RaceKey, ShouldEqual, "ascot::2026-10-18::r02")
			So(docs[2].RaceKey, ShouldEqual, "york::2026-10-18::r03")
		})

		Convey("Then race fields are captured", func() {
			So(docs[0].Fields[model.FieldVenue].Value, ShouldEqual, "Ascot")
			So(docs[0].Fields[model.FieldRaceType].Value, ShouldEqual, "Handicap")
			So(docs[0].Fields[model.FieldScheduledTime].Value, ShouldEqual, "2026-10-18T13:30:00Z")
			So(docs[1].Fields[model.FieldScheduledTime].Value, ShouldEqual, "2026-10-18T14:05:00Z")
			So(docs[0].Fields[model.FieldRaceType].Tier, ShouldEqual, model.TierKnownOdds)
		})

		Convey("Then runners keep their raw odds", func() {
			So(docs[0].Runners, ShouldHaveLength, 3)
			alpha, ok := runnerNamed(docs[0], "Alpha")
			So(ok, ShouldBeTrue)
			So(alpha.Fields[model.FieldOdds].Value, ShouldEqual, "7/2")
			So(alpha.Fields[model.FieldNumber].Value, ShouldEqual, "1")
			charlie, ok := runnerNamed(docs[0], "Charlie Brown")
			So(ok, ShouldBeTrue)
			So(charlie.Fields[model.FieldOdds].Value, ShouldEqual, "NR")
		})

		Convey("Then starting prices carry the starting price tier", func() {
			foxtrot, ok := runnerNamed(docs[2], "Foxtrot")
			So(ok, ShouldBeTrue)
			So(foxtrot.Fields[model.FieldOdds].Value, ShouldEqual, "9/2")
			So(foxtrot.Fields[model.FieldOdds].Tier, ShouldEqual, model.TierKnownOdds)
			So(foxtrot.Fields[model.FieldStartingPrice].Value, ShouldEqual, "4/1")
			So(foxtrot.Fields[model.FieldStartingPrice].Tier, ShouldEqual, model.TierStartingPrice)

			golf, ok := runnerNamed(docs[2], "Golf Hotel")
			So(ok, ShouldBeTrue)
			So(golf.Fields, ShouldNotContainKey, model.FieldOdds)
			So(golf.Fields[model.FieldStartingPrice].Value, ShouldEqual, "7/2")
		})

		Convey("Then a bare SP marker carries no price", func() {
			echo, ok := runnerNamed(docs[2], "Echo")
			So(ok, ShouldBeTrue)
			So(echo.Fields, ShouldNotContainKey, model.FieldOdds)
			So(echo.Fields, ShouldNotContainKey, model.FieldStartingPrice)
		})

		Convey("Then every document validates", func() {
			for _, d := range docs {
				So(d.Validate(), ShouldBeNil)
				So(d.SourceID, ShouldEqual, "paste")
			}
		})
	})

	Convey("Given a block without any race header", t, func() {
		docs, err := TextParser{}.Parse([]byte("just some notes\nnothing else"), testMeta)
		So(err, ShouldBeNil)
		So(docs, ShouldBeEmpty)
	})
}

func TestJSONParser(t *testing.T) {
	Convey("Given a JSON race card feed", t, func() {
		feed := `{"meetings":[{"venue":"Kempton Park","races":[
			{"number":4,"time":"19:00","name":"Hcap","going":"Standard","runners":[
				{"name":"Alpha","number":1,"odds":"3/1","sp":"5/2","jockey":"J Smith","trainer":"T Jones"},
				{"name":"  Bravo   Two ","number":"2","odds":"9/2"}]},
			{"time":"19:30","name":"Maiden","runners":[{"name":"Charlie","odds":"SP 2/1"}]}]}]}`
		docs, err := JSONParser{}.Parse([]byte(feed), testMeta)

		Convey("Then each race is a document keyed by the course", func() {
			So(err, ShouldBeNil)
			So(docs, ShouldHaveLength, 2)
			So(docs[0].RaceKey, ShouldEqual, "kempton::2026-10-18::r04")
			So(docs[0].Fields[model.FieldGoing].Value, ShouldEqual, "Standard")
		})

		Convey("Then runner details are carried", func() {
			alpha, ok := runnerNamed(docs[0], "Alpha")
			So(ok, ShouldBeTrue)
			So(alpha.Fields[model.FieldJockey].Value, ShouldEqual, "J Smith")
			So(alpha.Fields[model.FieldTrainer].Value, ShouldEqual, "T Jones")
			_, ok = runnerNamed(docs[0], "Bravo Two")
			So(ok, ShouldBeTrue)
		})

		Convey("Then starting prices come from sp or an SP odds value", func() {
			alpha, _ := runnerNamed(docs[0], "Alpha")
			So(alpha.Fields[model.FieldOdds].Value, ShouldEqual, "3/1")
			So(alpha.Fields[model.FieldStartingPrice].Value, ShouldEqual, "5/2")
			So(alpha.Fields[model.FieldStartingPrice].Tier, ShouldEqual, model.TierStartingPrice)
			charlie, ok := runnerNamed(docs[1], "Charlie")
			So(ok, ShouldBeTrue)
			So(charlie.Fields, ShouldNotContainKey, model.FieldOdds)
			So(charlie.Fields[model.FieldStartingPrice].Value, ShouldEqual, "2/1")
		})

		Convey("Then a race without a number is keyed by its post time", func() {
			So(docs[1].RaceKey, ShouldStartWith, "kempton::2026-10-18::")
			So(docs[1].RaceKey, ShouldNotEndWith, "::r00")
		})
	})

	Convey("Given malformed JSON", t, func() {
		_, err := JSONParser{}.Parse([]byte(`{"meetings":`), testMeta)
		So(errors.Is(err, ErrUnrecognized), ShouldBeTrue)
	})
}

func TestHTMLTableParser(t *testing.T) {
	Convey("Given a race card page", t, func() {
		page := `<html><body>
<div class="meeting" data-venue="Ascot">
  <table class="race" data-race="1" data-time="1:30 PM" data-type="Handicap" data-url="https://example.test/r1">
    <tr class="runner"><td class="number">1</td><td class="name">Alpha</td><td class="odds"><a data-price="7/2">7/2</a></td><td class="sp">3/1</td><td class="jockey">A Rider</td></tr>
    <tr class="runner"><td class="number">2</td><td class="name">Bravo</td><td class="odds">EVS</td></tr>
  </table>
</div>
<div class="meeting"><table class="race" data-race="2"></table></div>
</body></html>`
		docs, err := NewHTMLTableParser(Selectors{}).Parse([]byte(page), testMeta)

		Convey("Then races with a venue are extracted", func() {
			So(err, ShouldBeNil)
			So(docs, ShouldHaveLength, 1)
			doc := docs[0]
			So(doc.RaceKey, ShouldEqual, "ascot::2026-10-18::r01")
			So(doc.Fields[model.FieldURL].Value, ShouldEqual, "https://example.test/r1")
			So(doc.Fields[model.FieldScheduledTime].Value, ShouldEqual, "2026-10-18T13:30:00Z")
			alpha, ok := runnerNamed(doc, "Alpha")
			So(ok, ShouldBeTrue)
			So(alpha.Fields[model.FieldOdds].Value, ShouldEqual, "7/2")
			So(alpha.Fields[model.FieldJockey].Value, ShouldEqual, "A Rider")
			So(alpha.Fields[model.FieldStartingPrice].Value, ShouldEqual, "3/1")
			So(alpha.Fields[model.FieldStartingPrice].Tier, ShouldEqual, model.TierStartingPrice)
			bravo, ok := runnerNamed(doc, "Bravo")
			So(ok, ShouldBeTrue)
			So(bravo.Fields[model.FieldOdds].Value, ShouldEqual, "EVS")
			So(bravo.Fields, ShouldNotContainKey, model.FieldStartingPrice)
		})
	})
}

func TestDetect(t *testing.T) {
	Convey("Detect picks a parser by payload shape", t, func() {
		_, isJSON := Detect([]byte(`  {"meetings":[]}`)).(JSONParser)
		So(isJSON, ShouldBeTrue)
		_, isHTML := Detect([]byte(`<div class="meeting"></div>`)).(*HTMLTableParser)
		So(isHTML, ShouldBeTrue)
		_, isText := Detect([]byte("Ascot\nRace 1")).(TextParser)
		So(isText, ShouldBeTrue)
	})
}
