package trends

import "github.com/ubuygold/stockmeta/internal/model"

// catalogTrends is served until the first live scrape succeeds.
var catalogTrends = []model.Trend{
	{
		Ref:          "t1",
		Title:        "Cyberpunk Solarpunk City",
		Description:  "Futuristic eco-friendly cities with neon aesthetics. High demand in technology and sustainability sectors.",
		Competition:  model.CompetitionLow,
		SearchVolume: "45K",
		Category:     "Concept Art",
		Keywords:     []string{"solarpunk", "futuristic city", "green energy", "neon lights", "sustainable architecture", "utopia"},
		Concepts: []string{
			"Wide angle aerial shot of a city with vertical gardens and neon signs",
			"Close up of a solar panel integrated into a futuristic glass building",
			"People using holographic interfaces in a park full of glowing plants",
			"Cyberpunk street food vendor serving organic food in biodegradable neon containers",
		},
	},
	{
		Ref:          "t2",
		Title:        "Diverse Senior Lifestyle",
		Description:  "Active seniors from diverse backgrounds using technology and exercising. Evergreen high commercial value.",
		Competition:  model.CompetitionMedium,
		SearchVolume: "120K",
		Category:     "Lifestyle",
		Keywords:     []string{"active seniors", "elderly technology", "retirement joy", "diverse group", "healthy aging", "fitness"},
		Concepts: []string{
			"Group of diverse seniors laughing while looking at a tablet in a park",
			"Senior woman practicing yoga in a bright, modern living room",
			"Elderly man using a VR headset with a look of wonder",
			"Intergenerational family cooking dinner together in a modern kitchen",
		},
	},
	{
		Ref:          "t3",
		Title:        "Minimalist 3D Geometric Abstract",
		Description:  "Soft pastel colored 3D shapes for web backgrounds. Very popular for SaaS landing pages.",
		Competition:  model.CompetitionLow,
		SearchVolume: "32K",
		Category:     "Backgrounds",
		Keywords:     []string{"3d render", "abstract shapes", "pastel colors", "minimalist background", "soft lighting", "geometric"},
		Concepts: []string{
			"Floating spheres and cubes in soft coral and teal gradient lighting",
			"Abstract glass refraction patterns on a white background",
			"Matte finish geometric shapes arranged in a satisfying grid",
			"Liquid metal shapes flowing against a matte pastel background",
		},
	},
	{
		Ref:          "t4",
		Title:        "AI Robotics in Agriculture",
		Description:  "Robots and drones helping in farming. Tech + Nature intersection.",
		Competition:  model.CompetitionLow,
		SearchVolume: "18K",
		Category:     "Technology",
		Keywords:     []string{"agritech", "farming drone", "robot farmer", "smart agriculture", "future farming", "automation"},
		Concepts: []string{
			"Drone spraying water over a vibrant green corn field at sunrise",
			"Robotic arm harvesting ripe tomatoes in a high-tech greenhouse",
			"Farmer holding a tablet controlling autonomous tractors in the distance",
			"Close up of a robotic sensor examining soil quality",
		},
	},
	{
		Ref:          "t5",
		Title:        "Mental Health & Mindfulness",
		Description:  "Conceptual illustrations representing peace, balance, and mental wellbeing.",
		Competition:  model.CompetitionHigh,
		SearchVolume: "200K",
		Category:     "Healthcare",
		Keywords:     []string{"mental health", "meditation", "brain balance", "peaceful mind", "therapy", "wellness"},
		Concepts: []string{
			"Silhouette of a head with flowers blooming from the top against a calm sky",
			"Person sitting in lotus position levitating over a chaotic city",
			"Two hands gently holding a glowing heart shape",
			"Abstract representation of anxiety untangling into smooth lines",
		},
	},
	{
		Ref:          "t6",
		Title:        "Electric Vehicle Charging Stations",
		Description:  "Modern EV charging infrastructure in urban and nature settings.",
		Competition:  model.CompetitionMedium,
		SearchVolume: "60K",
		Category:     "Transport",
		Keywords:     []string{"ev charger", "electric car", "green transport", "charging station", "eco friendly", "infrastructure"},
		Concepts: []string{
			"Luxury electric car plugged into a sleek charger in a modern garage",
			"Row of charging stations in a parking lot with solar panels overhead",
			"Woman paying for EV charging using a smartphone app",
			"Electric truck charging at a station with wind turbines in background",
		},
	},
}

var catalogKeywords = []model.Keyword{
	{
		ID: "k1", Keyword: "Sustainable Bioplastic Packaging", Difficulty: 25, Volume: "12K", Trend: "up",
		SuggestedPrompt: "Close up shot of biodegradable food packaging made from leaves, bright studio lighting",
		Concepts: []string{
			"Detailed texture shot of packaging made from banana leaves",
			"Cosmetic bottles made from recycled bioplastic on a wooden podium",
			"Zero waste supermarket isle with bioplastic containers",
		},
	},
	{
		ID: "k2", Keyword: "Remote Work with Pets", Difficulty: 35, Volume: "45K", Trend: "up",
		SuggestedPrompt: "Candid shot of a woman working on laptop with a cat sleeping on the desk, cozy home office",
		Concepts: []string{
			"Golden retriever looking at laptop screen while owner types",
			"Man on video call with a parrot on his shoulder",
			"Cat walking across a mechanical keyboard close up",
		},
	},
	{
		ID: "k3", Keyword: "Vertical Farming Indoors", Difficulty: 28, Volume: "18K", Trend: "up",
		SuggestedPrompt: "Modern hydroponic vertical farm with purple LED grow lights, futuristic agriculture",
		Concepts: []string{
			"Scientist examining lettuce in a vertical farm lab",
			"Wide shot of a restaurant with a vertical herb garden wall",
			"Macro shot of water droplets on hydroponic roots",
		},
	},
	{
		ID: "k4", Keyword: "Inclusive Prosthetic Limbs", Difficulty: 42, Volume: "22K", Trend: "stable",
		SuggestedPrompt: "Portrait of a confident athlete with a carbon fiber prosthetic leg running on track",
		Concepts: []string{
			"Close up of a customized artistic prosthetic arm holding a coffee cup",
			"Child with a colorful prosthetic leg playing soccer",
			"Fashion model showing off a bionic leg on a runway",
		},
	},
	{
		ID: "k5", Keyword: "Digital Detox Camping", Difficulty: 30, Volume: "15K", Trend: "up",
		SuggestedPrompt: "Group of friends camping in forest without phones, enjoying campfire, authentic emotion",
		Concepts: []string{
			"Friends reading paper books in a hammock by a lake",
			"Couple looking at a map instead of a GPS phone",
			"Hands warming up by a campfire, no technology visible",
		},
	},
	{
		ID: "k6", Keyword: "Recycled Ocean Plastic Art", Difficulty: 20, Volume: "8K", Trend: "stable",
		SuggestedPrompt: "Colorful abstract sculpture made from recycled ocean plastic debris on clean sand",
		Concepts: []string{
			"Artist sorting colorful plastic pieces on a workbench",
			"A giant whale sculpture made of plastic bottles on a beach",
			"Texture background of melted recycled plastic caps",
		},
	},
}
