package generator

import (
	"math/rand"

	"github.com/vilhelmsaro/car-seeder/internal/model"
)

var makes = []string{"toyota", "honda", "ford", "chevrolet", "nissan", "bmw", "audi", "volkswagen"}

var modelsByMake = map[string][]string{
	"toyota":     {"corolla", "camry", "rav4", "highlander"},
	"honda":      {"civic", "accord", "cr-v", "pilot"},
	"ford":       {"focus", "fusion", "explorer", "f-150"},
	"chevrolet":  {"malibu", "equinox", "silverado", "tahoe"},
	"nissan":     {"altima", "sentra", "rogue", "murano"},
	"bmw":        {"3-series", "5-series", "x3", "x5"},
	"audi":       {"a4", "a6", "q5", "q7"},
	"volkswagen": {"golf", "jetta", "passat", "tiguan"},
}

var locations = []string{"austin", "denver", "seattle", "chicago", "miami", "boston", "phoenix", "portland"}

// randomCar draws a plausible Car from small fixed vocabularies; the values
// themselves carry no domain meaning beyond exercising the write path.
func randomCar() model.Car {
	carMake := makes[rand.Intn(len(makes))]
	models := modelsByMake[carMake]
	carModel := models[rand.Intn(len(models))]

	return model.Car{
		NormalizedMake:  carMake,
		NormalizedModel: carModel,
		Year:            2015 + rand.Intn(11),
		Price:           float64(8000+rand.Intn(52000)) + 0.99,
		Location:        locations[rand.Intn(len(locations))],
	}
}
